// Package api is the HTTP client for an agent runtime's HTTP surface.
//
// Endpoints (relative to the runtime base URL, or to a gateway proxy base
// of the form {gateway}/proxy/{proxyKey}):
//   - GET  /status                 reachability check
//   - POST /tools/invoke           tool invocation
//   - POST /v1/chat/completions    OpenAI-compatible chat, optionally streamed
//
// Streamed responses use "data: <json>" lines terminated by "data: [DONE]".
package api
