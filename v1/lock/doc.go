// Package lock provides a mutual-exclusion lock over a shared store with
// automatic lease renewal.
//
// A lock is a single key whose value is the holder identity of the current
// owner and whose TTL is the lease. Acquire creates the key with a
// set-if-absent call and retries after a fixed delay while someone else
// holds it. While the lock is held a renewer goroutine periodically
// extends the TTL, but only as long as the stored value is still its own
// holder identity. Release stops that goroutine, waits for it to exit and
// only then deletes the key, again conditionally on the holder identity,
// so a holder whose lease silently expired can never remove the lock of
// its successor.
//
// Renewal does not use a plain set-if-present with a fresh TTL: it runs a
// script that compares the stored holder and only then resets the TTL, so
// a late renewal can neither create the key nor rewrite a successor's
// value.
//
// When the Locker's executor is wrapped in a store.CircuitBreaker, pass the
// unwrapped executor with WithRenewExecutor so that renewals and releases
// keep reaching the store while acquisition attempts fail fast.
//
// There is no fairness among waiters: whichever set-if-absent reaches the
// store first wins. Mutual exclusion also relies on the protected work
// never outliving the lease, which the renewer makes likely but cannot
// guarantee across long process pauses.
package lock
