// Package errors provides foundational, type-safe error primitives used across flutterci.
//
// This package contains classified error types and helpers for robust error handling,
// including a fluent builder API for constructing ClassifiedError values with context.
//
// Key features:
//   - ErrorCategory: Broad error classification (auth, payload, capacity, storage, etc.)
//   - ErrorSeverity: Impact level (error, warning, info)
//   - RetryStrategy: Retry behavior (never, backoff, user action)
//   - ClassifiedError: Structured error with category, severity, and context
//   - ErrorBuilder: Fluent API for creating classified errors
//   - HTTP adapter for error presentation
//
// Example usage:
//
//	err := errors.AuthError("invalid webhook signature").
//		WithContext("provider", "github").
//		Build()
package errors
