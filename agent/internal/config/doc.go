// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: the `agent:` tree parsed from YAML
//   - AgentConfig: server_endpoint, evaluation_interval, buffer_size,
//     max_concurrent, log_level, server_auth, analysis, sources, piles,
//     gatekeeper, weather, farm_calendar, storage, coordination
//   - Source: id, type (thingsboard|datacake|prometheus), endpoint, auth, tls,
//     devices
//   - PileConfig: id, source, attribute origin (static|source|postgres) and
//     the static pile metadata
//   - AuthConfig: mode plus *_env names; Key(), Token() and Password()
//     resolve secrets from environment variables, never from the file
//
// Load(path) reads the YAML file, applies defaults (5m evaluation interval,
// 100 buffered reports, memory coordination), then validates required fields
// and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. Only the analysis block and the log
// level are applied live by the agent.
package config
