package msock

import "encoding/binary"

// Wire format: every frame is an 8-byte big-endian unsigned length header
// followed by exactly that many payload bytes. The all-ones length is
// reserved for the zero-payload termination frame.
const (
	// HeaderSize is the length of the frame header in bytes.
	HeaderSize = 8

	// sentinelLength marks a termination frame. It never describes a real
	// message.
	sentinelLength uint64 = 0xffffffffffffffff

	// MaxMessageLength is the largest payload a single frame can carry.
	MaxMessageLength uint64 = sentinelLength - 1
)

// encodeHeader writes the frame header for a payload of the given length.
// hdr must be at least HeaderSize bytes.
func encodeHeader(hdr []byte, length uint64) {
	binary.BigEndian.PutUint64(hdr[:HeaderSize], length)
}

// decodeHeader reads the announced payload length from a frame header.
func decodeHeader(hdr []byte) uint64 {
	return binary.BigEndian.Uint64(hdr[:HeaderSize])
}
