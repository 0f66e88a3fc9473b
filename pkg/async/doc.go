// Package async provides panic-safe background execution.
//
// SafeGo runs a single task in its own goroutine. WorkerPool bounds
// concurrency for a stream of tasks; gymcore uses it to move audit writes
// off the request path when audit dispatch is set to "pool". TrySubmit
// never blocks, so a saturated pool sheds work instead of slowing
// requests down.
package async
