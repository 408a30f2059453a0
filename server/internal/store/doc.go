// Package store keeps the latest ReportEnvelope of every pile in memory with
// TTL eviction, plus a bounded, deduplicated phase transition history per
// pile. Long-term history lives in InfluxDB (package history).
package store
