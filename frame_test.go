package msock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeHeader(t *testing.T) {
	var hdr [HeaderSize]byte
	encodeHeader(hdr[:], 2)

	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02}, hdr[:])
}

func TestEncodeHeader_Sentinel(t *testing.T) {
	var hdr [HeaderSize]byte
	encodeHeader(hdr[:], sentinelLength)

	require.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, hdr[:])
}

func TestHeaderRoundTrip(t *testing.T) {
	lengths := []uint64{0, 1, 2, 255, 256, 1 << 20, 1 << 40, MaxMessageLength}

	var hdr [HeaderSize]byte
	for _, length := range lengths {
		encodeHeader(hdr[:], length)
		assert.Equal(t, length, decodeHeader(hdr[:]))
	}
}

func TestMaxMessageLength(t *testing.T) {
	// The sentinel value is reserved; the largest real message is one less.
	require.Equal(t, sentinelLength-1, MaxMessageLength)
	require.NotEqual(t, sentinelLength, MaxMessageLength)
}
