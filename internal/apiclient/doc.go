// Package apiclient is a JSON REST client that caches GET responses in the
// tiers of a cache.Scope.
//
// A GET is keyed by METHOD:URL:PARAMS with parameters encoded in sorted
// order. When the effective Policy enables caching, a valid entry in the
// selected tier answers the call without network I/O; otherwise the
// response is fetched, stored for the policy's TTL and returned. POST, PUT,
// PATCH and DELETE never read or write the cache.
//
// Every failure is returned as *Error with a code of HTTP_<status>,
// NETWORK_ERROR or UNKNOWN_ERROR.
package apiclient
