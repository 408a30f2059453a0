// Package history writes every accepted report envelope to InfluxDB so pile
// trends can be charted beyond the in-memory store's reach. Writes go
// through the client's batching WriteAPI; failures are logged, never
// returned to the agent.
package history
