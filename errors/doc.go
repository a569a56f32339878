// Package errors provides the error classification used by every feed component.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input, do not retry) and Fatal (stop processing). The feed client
// itself never treats a runtime failure as fatal; Fatal is reserved for
// startup problems such as an unusable configuration file.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrappers set the class while wrapping:
//
//	errors.WrapTransient(err, "transport", "dial", "connect")
//	errors.WrapInvalid(err, "config", "Validate", "check url")
//	errors.WrapFatal(err, "main", "run", "load config")
//
// # Standard Error Variables
//
//   - Lifecycle: ErrAlreadyStarted, ErrNotStarted, ErrAlreadyStopped
//   - Connection: ErrNoConnection, ErrConnectionLost, ErrConnectionTimeout
//   - Wire: ErrParsingFailed, ErrUnknownMessage
//   - Configuration: ErrInvalidConfig, ErrMissingConfig
//   - Lookup and resources: ErrNotFound, ErrQueueFull
//
// Classification is preserved through wrapping chains and works with the
// standard errors.Is and errors.As helpers, which this package re-exports so
// callers can import a single errors package.
package errors
