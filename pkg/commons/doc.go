// Package commons carries the shared plumbing of the worker-bank service:
// the request-scoped tracking context (logger, tracer, request id, metrics),
// the business error taxonomy, environment helpers and the app launcher.
package commons
