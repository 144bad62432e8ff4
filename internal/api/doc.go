// Package api contains the HTTP handlers for the bridge: the inbound
// webhook endpoints that trigger and complete runs, and the run API for
// status lookups and cancellation. Handlers decode and validate request
// bodies, delegate to the dispatch and callback services, and translate
// service errors into sanitized HTTP responses.
package api
