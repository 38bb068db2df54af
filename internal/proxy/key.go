package proxy

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// NormalizeEndpoint trims whitespace and trailing slashes.
func NormalizeEndpoint(endpoint string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/")
}

// DeriveKey returns the proxy key for endpoint: the unpadded base64url
// encoding of the first 16 bytes of its SHA-256. The same endpoint always
// maps to the same key.
func DeriveKey(endpoint string) string {
	sum := sha256.Sum256([]byte(NormalizeEndpoint(endpoint)))
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

// BaseURL returns the proxy base for key on gatewayURL.
func BaseURL(gatewayURL, key string) string {
	return strings.TrimRight(gatewayURL, "/") + "/proxy/" + key
}

// WebSocketURL converts an http(s) URL to ws(s).
func WebSocketURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return httpURL
	}
}
