// Package pipeline wires the producer, the work queue, the completion
// signal and the worker pool into one run.
//
// # Basic Usage
//
//	cfg := pipeline.DefaultConfig()
//	cfg.MaxItems = 5
//	cfg.Workers = 2
//
//	engine := pipeline.New(cfg)
//	result, err := engine.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
//
// # Presets
//
// Predefined configurations are available by name:
//   - quick: 5 items, 2 workers
//   - default: 250 items, 4 workers
//   - wide: 250 items, 16 workers
//   - stress: 100000 items, 16 workers
//   - throttled: rate-limited producer with backoff polling
//
// # Errors
//
// Configuration errors (ErrInvalidConfig) are reported before any goroutine
// starts. A failing queue push aborts the whole run. A failing transform only
// skips its item and is counted in Result.Failed.
package pipeline
