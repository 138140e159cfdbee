// Package config provides YAML-based configuration loading and validation
// for the video listener service.
package config
