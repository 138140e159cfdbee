// Package server implements the TCP frame server that accepts a single
// video producer, runs the length-prefixed receive loop, and relays control
// commands back over the same connection. It also provides the HTTP API
// for monitoring and management.
package server
