// Package ratelimit implements a fixed-window request limiter on top of a
// store Executor.
//
// Every decision is a single script evaluation that reads the window
// counter, denies without touching it when the limit is reached, and
// otherwise seeds or increments it. Concurrent callers across processes
// therefore never admit more than limit requests per window.
//
// Two window policies are available:
//
//	PolicyFixedWindow    the TTL is set once when the counter is created,
//	                     so the window is anchored at its first request
//	PolicyRollingWindow  the TTL is re-applied on every admitted request,
//	                     so a busy identity keeps its window open
//
// A denied request is a normal Decision, not an error.
package ratelimit
