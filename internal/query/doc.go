// Package query turns an arbitrary fetch function into cached state with
// loading and error tracking. Query follows one key, Batch a list of keys.
//
// Results land in a tier of a cache.Scope, so a Query and an apiclient.Client
// built on the same scope share entries.
package query
