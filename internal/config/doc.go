// Package config loads the gateway configuration file.
//
// The file is YAML. ${VAR} and ${VAR:-default} are replaced with environment
// values before parsing and "$$" yields a literal dollar sign. Durations
// accept Go duration strings ("30s", "5m") or integer milliseconds.
//
//	server:
//	  port: 8080
//	auth:
//	  secret: env:JWT_SECRET
//	services:
//	  - name: users
//	    baseUrl: http://users:3000
//	    timeout: 5s
//	    auth:
//	      mode: required
//	      roles: [admin]
//	    cache:
//	      enabled: true
//	      ttl: 1m
//
// A Watcher reloads the file on change. Only a configuration that parses and
// validates is handed to the reload callback.
package config
