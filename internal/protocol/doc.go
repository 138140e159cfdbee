// Package protocol implements the length-prefixed frame wire format and the
// newline-delimited control command encoding. It handles header encoding,
// frame size bound checks, and control command validation.
package protocol
