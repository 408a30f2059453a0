// Package scraper fetches raw pile telemetry from the supported platforms.
// Each Scraper returns telemetry.Raw keyed by the platform's own channel
// names; normalization happens later in package telemetry.
//
// Implemented sources: ThingsBoard (thingsboard.go), Datacake GraphQL
// (datacake.go) and a Prometheus-format sensor exporter (prometheus.go).
// Factory: New(config.Source) returns the correct Scraper.
//
// ThingsBoard additionally implements AttributeSource (pile metadata from
// asset server attributes) and Publisher (reports written back as asset
// telemetry).
//
// Authentication (mTLS, API key, bearer and Datacake token, basic) is handled
// by the shared authRoundTripper in base.go; ThingsBoard's login mode keeps
// its own session token.
package scraper
