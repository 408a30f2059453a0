// Package shipper delivers ReportEnvelopes to compostwatch-server over the
// ReportService gRPC API (JSON codec, see pkg/reportrpc).
//
// Ship is non-blocking and bounded by agent.buffer_size; the oldest envelope
// is evicted when the queue is full so the newest report of every pile wins.
// Run reconnects with truncated exponential backoff (1s to 60s, ±25% jitter).
// InvalidArgument, Unauthenticated and PermissionDenied responses discard the
// envelope instead of retrying it.
//
// Server auth: mTLS, an API key sent as gRPC metadata, or plaintext.
package shipper
