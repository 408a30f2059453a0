// Package config loads the `server:` section of config.yaml (the `agent:` key
// is ignored by the server binary).
//
// Config fields:
//   - GRPCPort, HTTPPort: receiver and REST/websocket listeners (50051, 8080)
//   - Auth: API key mode, header and the env var holding the key
//   - Store: report TTL (30m) and per-pile transition history (50)
//   - Alerts: rules over report fields plus webhook targets
//   - History: InfluxDB url, org, bucket and token env var; empty url disables
//   - BroadcastInterval: websocket snapshot cadence (5s)
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
