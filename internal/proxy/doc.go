// Package proxy manages a runtime's registration with a gateway.
//
// A gateway forwards {gateway}/proxy/{proxyKey}/* to the registered
// endpoint. Registrations live in gateway memory, so a gateway restart
// silently drops them; Registrar detects the resulting "not found"
// failures and re-registers once before giving up.
package proxy
