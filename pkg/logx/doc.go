// Package logx wraps zerolog behind a small field-based facade.
//
// The Service owns the configured sinks (console, file) and can swap
// level/outputs at runtime; Loggers derived from it stay live across
// Apply() calls. The zero-value Logger is a safe no-op, so components can
// hold a Logger without nil checks.
package logx
