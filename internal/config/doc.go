// Package config loads agentlink YAML configuration.
//
// Files may reference environment variables as ${VAR}; they are expanded
// before parsing. Durations use Go syntax ("30s", "5m").
package config
