// Package cli implements gatewayctl, the command-line client of the gateway.
//
// Commands:
//   - complete / cancel: stream a completion, cancel one in flight
//   - balance / topup / transfer: credit accounts
//   - conversations: the caller's conversation list
//   - token: mint an access token for local testing
//
// Settings come from flags, a config file (--config) or GATEWAY_* variables.
package cli
