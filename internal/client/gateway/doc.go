// Package gateway is the gRPC client of the completion gateway.
//
// GRPCClient dials the server with the JSON codec and attaches the access
// token to every unary and streaming call through interceptors. Complete
// delivers streamed chunks to a callback and returns the final status event.
package gateway
