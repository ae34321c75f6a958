// Package health provides composable probes and the HTTP handlers behind the
// admin listener's liveness and readiness endpoints.
//
// Probes combine with [All] (AND) and [Any] (OR); [Fixed] is static and
// [CheckFunc] adapts a plain function. [Gate] is the process-wide readiness
// switch: closed while starting and again while draining.
package health
