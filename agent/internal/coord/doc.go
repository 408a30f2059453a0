// Package coord coordinates agents that share piles. A Locker guarantees at
// most one in-flight evaluation per pile, and RedisStateStore shares the
// phase transition tracker's state between agent instances.
//
// Both come in a process-local flavour (MemoryLocker, compute.MemoryStateStore)
// for single-agent deployments.
package coord
