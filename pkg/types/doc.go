// Package types defines the Go types shared by the agent and the server.
// CompostStatusReport is the evaluation output of one pile; ReportEnvelope
// wraps it with the per-variable daily statistics and phase transitions that
// travel over the ReportService wire (see pkg/reportrpc).
package types
