// Package reportrpc defines the ReportService used by the agent to deliver
// ReportEnvelopes to the server.
//
// The service is plain gRPC with a JSON codec registered under the "json"
// content subtype, so no generated protobuf code is involved. Clients pass
// grpc.CallContentSubtype("json") on every call (NewReportServiceClient does
// this); the server selects the codec from the request content type.
package reportrpc
