// Package api implements the read-only HTTP REST API of the compost server.
//
// New(store, alerts) returns a Handler that serves:
//
//	GET /api/v1/health                  overall state, pile and alert counts
//	GET /api/v1/piles                   all live piles ([]PileResponse)
//	GET /api/v1/piles/{id}              single pile; 404 if unknown or stale
//	GET /api/v1/piles/{id}/transitions  recorded phase transitions
//	GET /api/v1/alerts                  firing and recently resolved alerts
//	GET /api/v1/snapshot                piles, alerts and generated_at
//
// Every endpoint answers JSON and returns 405 for methods other than GET.
// Handler.Snapshot is also the payload of the WebSocket broadcast.
package api
