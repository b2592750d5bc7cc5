// Package store wraps the atomic operations of a Redis-compatible store:
// set-if-absent with a TTL and indivisible Lua script evaluation. Both the
// lock and the rate limiter mutate shared state exclusively through an
// Executor, so a script either applies completely or not at all regardless
// of how many independent clients race on the same key.
//
// The Redis executor accepts any redis.UniversalClient and can be wrapped
// in a CircuitBreaker so that a severed store fails fast.
package store
