/*
Package observability turns window lifecycle events into Prometheus metrics and
structured logs.

Both are exposed as domain.LifecycleHooks, so they can be merged and passed to any
window through rma.WithHooks.
*/
package observability
