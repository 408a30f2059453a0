// Package auth enforces the server's API key.
//
// APIKeyInterceptor guards the gRPC receiver and reads the key from the
// configured metadata header. HTTPMiddleware guards the REST API and the
// websocket hub and accepts the key from the header, the api_key query
// parameter or a bearer token. Keys are compared in constant time.
//
// Both pass every request through when the mode is not "apikey" or no key
// is configured.
package auth
