// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting for the conversion service. It acts as an adapter
// between external clients and the job orchestrator, translating HTTP
// concerns to conversion operations.
package api
