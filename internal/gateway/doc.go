// Package gateway is a reference gateway for runtimes that are not
// directly reachable.
//
// Runtimes are registered with POST /connect and addressed afterwards as
// /proxy/{proxyKey}/{path}. Plain HTTP is reverse-proxied; a WebSocket
// upgrade on the same path is bridged frame by frame. Registrations live
// in memory only and vanish when the process restarts.
package gateway
