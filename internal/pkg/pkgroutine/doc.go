// Package pkgroutine contains helpers for running goroutines safely.
//
// The Manager type limits concurrency without blocking the caller (Go), or
// starts tracked tasks with no limit at all (Spawn). Either way it collects
// returned errors and logs panics so that background work does not crash the
// process silently.
package pkgroutine
