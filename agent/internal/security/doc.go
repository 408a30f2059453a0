// Package security watches the TLS certificates of the configured sensor
// platforms and logs the ones about to expire, so a lapsed certificate is
// noticed before evaluations start failing.
package security
