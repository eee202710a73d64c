// Package directory talks to the nation directory's HTTP API: bulk reads
// used by query evaluation (region rosters, WA rolls, founding activity,
// per-nation attributes) and the telegram send endpoint.
//
// The client owns the directory's rate discipline: a shared token bucket for
// reads and per-class pacing for telegram sends. Read results are cached
// with a TTL; every read accepts a fresh flag that bypasses the cached value
// (the fetched result still replaces it).
package directory
