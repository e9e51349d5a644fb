// Package dispatch runs blocking fetch calls on a bounded worker pool and
// hands the result back to the caller with an upper time bound.
//
// The crawl loop stays synchronous: it calls Do and blocks. The browser work
// itself happens on the pool, so a wedged browser costs the caller at most
// the attempt timeout plus a grace period, never the whole request.
package dispatch
