package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/okuzmin/vectorize-api/internal/admission"
	"github.com/okuzmin/vectorize-api/internal/api"
	apiMiddleware "github.com/okuzmin/vectorize-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware. Returns the configured router.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	// Pressure-based shedding sits in front of everything else so an
	// overloaded process stops paying for auth and quota bookkeeping.
	throttle := apiMiddleware.NewThrottleMiddleware(app.throttler)
	r.Use(throttle.Admit)

	authMW := apiMiddleware.NewAuthMiddleware(app.tokens, app.keystore, app.config.Auth.DefaultTier)
	r.Use(authMW.Resolve)

	admissionMW := apiMiddleware.NewAdmissionMiddleware(app.admission)
	idempotencyMW := apiMiddleware.NewIdempotencyMiddleware(app.idempotency)
	cacheMW := apiMiddleware.NewCacheMiddleware(app.respCache, app.config.Cache.CacheableStatuses)
	conditionalMW := apiMiddleware.NewConditionalMiddleware(app.validators)

	convertHandler := api.NewConvertHandler(app.orchestrator, app.registry, app.blobs, app.validators, app.logger)
	systemHandler := api.NewSystemHandler(app.orchestrator, app.slots, app.respCache, app.idempotency, app.monitor, app.throttler)

	r.Route("/api", func(r chi.Router) {
		r.Use(admissionMW.Limit(admission.ClassRequests))

		// Job creation: conversion quota, per-caller concurrency ceiling,
		// and the idempotency guard.
		r.Group(func(r chi.Router) {
			r.Use(admissionMW.Limit(admission.ClassConversions))
			r.Use(admissionMW.Concurrent)
			r.Use(idempotencyMW.Guard)
			r.Post("/convert", convertHandler.CreateJob)
			r.Post("/convert/batch", convertHandler.CreateBatch)
		})

		// Reads: response cache in front, conditional revalidation behind
		// it so 304s are answered from current validators.
		r.Group(func(r chi.Router) {
			r.Use(conditionalMW.Handle)
			r.Use(cacheMW.Cache)
			r.Get("/convert", convertHandler.ListJobs)
			r.Get("/convert/{id}/status", convertHandler.GetStatus)
			r.Get("/methods", convertHandler.ListMethods)
		})

		// Result download is never cached; conditional preconditions still
		// apply to cancellation.
		r.Get("/convert/{id}/result", convertHandler.GetResult)
		r.With(conditionalMW.Handle).Delete("/convert/{id}", convertHandler.CancelJob)

		r.Get("/stats", systemHandler.Stats)
	})

	// Health check endpoint stays outside quota accounting
	r.Get("/health", systemHandler.Health)

	return r
}
