// Package receiver implements the ReportService gRPC endpoint that accepts
// ReportEnvelopes from compostwatch-agent instances.
//
// SendReport rejects envelopes without a pile_id, or with neither a phase
// nor an error, as codes.InvalidArgument. Accepted envelopes go to the
// store, the alert engine and the history writer in that order.
// Authentication is enforced upstream by the interceptor in package auth.
package receiver
