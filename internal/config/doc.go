// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable
// interpolation and duration strings like "30s". One Config serves both
// binaries: feedtap reads the feed, log, and metrics sections, feedsim
// reads sim, log, and metrics.
package config
