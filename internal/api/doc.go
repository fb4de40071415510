// ABOUTME: Package api exposes the incident analysis and chat HTTP surface
// ABOUTME: consumed by the dashboard and the Slack action lambda.

// Package api is the HTTP front of the gateway.
//
// Endpoints:
//
//	POST /analyze                    run an automated incident analysis
//	POST /chat                       one conversational exchange in a session
//	GET  /sessions/{id}/messages     session history, oldest first
//	GET  /users/{user}/sessions      a user's recent turns, newest first
//	GET  /health                     liveness
//
// The dashboard and Slack router are external collaborators; this package
// only speaks the JSON contracts above. Handlers never leak raw orchestrator
// errors: a failed run comes back as a marked error string with a 5xx status.
package api
