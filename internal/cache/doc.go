// Package cache provides the two cache tiers used by the scouting client
// and the Scope that ties them together.
//
// The memory tier lives for the process. The persistent tier serializes
// every entry as JSON {"data","timestamp","expiry"} into a shared
// storage.Storage under a fixed key prefix, so it survives restarts and
// never touches keys it does not own.
//
// Both tiers apply the same rule on every read: an entry is served only if
// its expiry is Permanent or no more than expiry has elapsed since it was
// written. Stale entries are removed when read, and a Sweeper removes the
// ones nobody reads again. Persistent tier failures (quota, encoding,
// decoding) are recovered as misses and never reach the caller.
package cache
