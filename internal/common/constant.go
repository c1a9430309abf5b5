// Package common contains shared constants and sentinel errors used across
// the gateway server, its transports and the command-line client.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound and outbound requests.
const AccessTokenHeaderName = "access_token"

// RequestIDHeaderName is the HTTP header carrying the completion request id.
const RequestIDHeaderName = "X-Request-ID"
