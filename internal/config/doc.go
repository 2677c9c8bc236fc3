// Package config handles configuration loading for the ghostwire server and
// agent.
//
// # Overview
//
// Server configuration is loaded from YAML files with environment variable
// expansion; agent configuration ships as a small TOML profile next to the
// binary. The package provides validation for both.
//
// # Environment Variable Expansion
//
// Server configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${GHOSTWIRE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agents:
//	  checkin_timeout: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  api_addr: "127.0.0.1:9090"
//
//	listeners:
//	  - name: "primary"
//	    host: "0.0.0.0"
//	    port: 8080
//	  - name: "tls"
//	    host: "0.0.0.0"
//	    port: 8443
//	    cert_file: "/etc/ghostwire/tls.crt"
//	    key_file: "/etc/ghostwire/tls.key"
//
//	database:
//	  path: "./ghostwire.db"
//
//	auth:
//	  jwt_secret: "${GHOSTWIRE_JWT_SECRET}"
//	  operator: "operator"
//	  operator_hash: "$2a$10$..."
//
//	agents:
//	  checkin_timeout: "30s"
//	  sweep_schedule: "@every 1m"
//
//	logging:
//	  level: "info"
//	  format: "text"
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Agent profile (TOML):
//
//	server = "https://c2.example.net:8443"
//	sleep_interval = 60
//	jitter_percent = 10
//	insecure_tls = false
package config
