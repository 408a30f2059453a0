// Package runner drives the periodic evaluation of every configured pile.
//
// Each tick a Runner evaluates all piles in parallel, bounded by
// agent.max_concurrent. A pile is only evaluated while its coord lock is held,
// so two agents sharing a Redis never evaluate the same pile at once. For
// each pile it:
//
//  1. resolves the pile metadata (package pile)
//  2. fetches today's telemetry and the telemetry since the start date
//  3. reduces both (package telemetry)
//  4. fetches the next-24h forecast, dropping it on error
//  5. evaluates the report (package compute) and feeds the transition tracker
//  6. posts the daily statistics to the farm calendar, queueing failures in
//     the outbox
//  7. publishes the report back to the source when it supports it
//  8. ships a types.ReportEnvelope to the server
//
// A failure in any step before 5 produces an envelope carrying Error; it
// never affects other piles. After all piles ran, queued observations are
// retried once.
package runner
