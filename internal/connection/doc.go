// Package connection implements the persistent, multiplexed connection to a
// runtime reached through a gateway.
//
// The package provides:
//   - Client: a single WebSocket connection with ping/pong heartbeat
//   - Correlator: request id → pending completion bookkeeping
//   - Session: Client + Correlator, routing response frames to callers and
//     event frames to subscribers
//   - Reconnector: one shared in-flight reconnect with a failure cooldown
package connection
