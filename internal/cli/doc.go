// Package cli implements the scoutcache command tree: cached requests
// against configured clients, concurrent multi-path fetches and cache
// maintenance.
package cli
