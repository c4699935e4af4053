// Package metrics collects pipeline throughput and failure statistics.
//
// Metrics keeps lock-free counters for produced, processed and failed items,
// a bounded sample of per-item processing latency, and mirrors every count
// into Prometheus collectors so a running server can expose them.
//
// # Basic Usage
//
//	m := metrics.New()
//	if err := m.Register(prometheus.NewRegistry()); err != nil {
//	    return err
//	}
//
//	start := time.Now()
//	// ... transform an item ...
//	m.RecordSuccess(time.Since(start))
//
//	snap := m.Snapshot()
//	fmt.Printf("processed: %d, p99: %v\n", snap.Processed, snap.P99Latency)
//
// # Configuration
//
// Use NewWithConfig for custom settings:
//
//	config := metrics.Config{
//	    Namespace:         "batch",
//	    MaxLatencySamples: 5000,
//	}
//	m := metrics.NewWithConfig(config)
//
// # Thread Safety
//
// All operations use atomic counters or a mutex and are safe for concurrent
// access from the producer and every worker.
package metrics
