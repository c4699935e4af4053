// Package worker provides the pool of goroutines that drain the work queue.
//
// The Pool runs a fixed number of workers. Each one repeatedly pops an item
// from the shared queue, applies the transform and reports the result. A
// worker stops only once it has seen the completion signal in the Done state
// and then found the queue empty; an empty queue while the producer is still
// running just means "wait and retry".
//
// # Basic Usage
//
//	pool, err := worker.NewPool(worker.PoolConfig{NumWorkers: 4}, q, sig, transform.Double)
//	if err != nil {
//	    return err
//	}
//	if err := pool.Run(ctx); err != nil {
//	    return err
//	}
//
// # Waiting
//
// With WaitNotify (the default) a worker blocks until the queue reports a new
// push or the completion signal fires. Queues that cannot notify, or pools
// configured with WaitBackoff, poll with bounded exponential backoff instead.
//
// # Cancellation
//
// Cancelling the context passed to Start or Run stops every worker; Wait then
// returns the context error. Items still queued at that point are left
// unprocessed.
package worker
