// Scoutcache is a command-line REST client for scouting and event data that
// keeps responses in a two-tier cache.
//
// Usage:
//
//	scoutcache get tba /event/2024txho/teams     # cached GET
//	scoutcache get api /matches --no-cache       # skip the cache once
//	scoutcache post api /reports -d -            # body from stdin, never cached
//	scoutcache fetch tba /team/frc5499 /team/frc254
//	scoutcache cache stats
//	scoutcache config show
//
// Configuration comes from built-in defaults, an optional YAML file
// (--config or SCOUTCACHE_CONFIG) and SCOUTCACHE_ environment variables.
package main
