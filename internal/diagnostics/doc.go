// Package diagnostics reports host and process resource usage for the
// health endpoint.
//
// Collection is best effort: a metric the platform cannot provide is left at
// its zero value rather than failing the health check.
package diagnostics
