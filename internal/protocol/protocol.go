package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Protocol constants from the wire format
const (
	// HeaderSize is the fixed size of the frame header: a single
	// big-endian uint32 carrying the payload length.
	HeaderSize = 4

	// MaxFrameSize is the largest payload a producer may send (5 MiB).
	// A header declaring more than this is malformed.
	MaxFrameSize = 5 * 1024 * 1024

	// CommandDelimiter terminates every control command on the wire.
	CommandDelimiter = '\n'
)

// EncodeHeader encodes a frame length as the 4-byte big-endian header.
func EncodeHeader(length uint32) [HeaderSize]byte {
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], length)
	return header
}

// DecodeHeader decodes the 4-byte big-endian frame header into the declared
// payload length. The returned length is not validated; callers apply the
// malformed-length policy via ValidateFrameLength.
func DecodeHeader(data []byte) (uint32, error) {
	if len(data) < HeaderSize {
		return 0, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}
	return binary.BigEndian.Uint32(data[:HeaderSize]), nil
}

// ValidateFrameLength checks a decoded frame length against the protocol
// bounds. The stream carries no resynchronization marker, so a length that
// fails this check means the connection is desynchronized and must be closed.
func ValidateFrameLength(length uint32) error {
	if length == 0 {
		return fmt.Errorf("frame length must be positive")
	}
	if length > MaxFrameSize {
		return fmt.Errorf("frame length %d exceeds maximum %d", length, MaxFrameSize)
	}
	return nil
}

// EncodeCommand encodes a control command for transmission to the producer.
// The command must be non-empty UTF-8 text without embedded line breaks; the
// wire delimiter is appended so the result can be written in a single call.
func EncodeCommand(command string) ([]byte, error) {
	if command == "" {
		return nil, fmt.Errorf("command cannot be empty")
	}
	if strings.ContainsAny(command, "\r\n") {
		return nil, fmt.Errorf("command cannot contain line breaks: %q", command)
	}

	encoded := make([]byte, 0, len(command)+1)
	encoded = append(encoded, command...)
	encoded = append(encoded, CommandDelimiter)
	return encoded, nil
}
