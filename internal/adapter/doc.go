// Package adapter gives callers one contract for talking to an agent
// runtime over three transports.
//
//   - Local: plain HTTP to a co-located runtime.
//   - Remote: HTTP/TLS to a remote runtime. Chat and tool endpoints only.
//   - Gateway: a runtime reachable through a gateway. Requests go over one
//     multiplexed WebSocket when it is up and fall back to the gateway's
//     HTTP proxy otherwise. Lost gateway registrations are repaired
//     transparently, once.
//
// The transport is chosen by Config.Kind and is never inferred from the
// endpoint.
package adapter
