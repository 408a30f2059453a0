// Package storage persists agent-side state in Postgres: the pile registry
// (table piles) and the outbox of farm calendar observations that could not
// be delivered (table observations).
//
// PostgresRepository runs on a pgx connection pool. MemoryRepository keeps
// the same data in process and is used when no database is configured.
package storage
