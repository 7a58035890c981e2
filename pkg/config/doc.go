// Package config loads the kothd configuration: YAML file, then KOTHD_*
// environment overrides, then command-line flags applied by the caller.
//
// A minimal file:
//
//	server:
//	  addr: ":8000"
//	  upstream: "http://localhost:5000"
//	traffic:
//	  capacity: 2000
//	  exclude_patterns: ["/static/**"]
//	log:
//	  level: debug
package config
