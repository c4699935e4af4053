// Package logger provides a simple, thread-safe logging facility.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each record carries a timestamp, level, the identity of the task that
// emitted it (producer, worker-N, ...) and the message.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Pipeline started")
//	logger.Info("worker-1", "Consuming: %d", item)
//
// Tasks receive a Handle bound to their identity instead of configuring
// anything themselves:
//
//	log := logger.For("producer")
//	log.Debug("produce item: %d", i)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.SetFormat(logger.FormatJSON)
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// # Thread Safety
//
// All logging operations are protected by a mutex and safe for concurrent use.
// Configure the sink once at process start; handles keep a pointer to the
// Logger they were created from.
package logger
