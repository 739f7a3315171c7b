package rsp

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		n := r.Intn(256)
		payload := make([]byte, n)
		for j := range payload {
			payload[j] = byte(r.Intn(256))
		}

		escaped := Escape(payload)
		got := Unescape(escaped)
		require.Equal(t, payload, got, "round trip mismatch for %v", payload)
	}
}

func TestEscapeOnlyTouchesSpecialBytes(t *testing.T) {
	payload := []byte("vFile:open:0,201,0,2f682e62")
	require.Equal(t, payload, Escape(payload))
}

func TestFrameChecksum(t *testing.T) {
	frame := Frame([]byte("OK"))
	require.Equal(t, byte('$'), frame[0])
	require.Equal(t, "OK", string(frame[1:3]))
	require.Equal(t, byte('#'), frame[3])

	sum := Checksum([]byte("OK"))
	require.True(t, VerifyChecksum([]byte("OK"), frame[4], frame[5]))
	require.Equal(t, byte('O'+'K'), sum)
}

func TestHexRoundTrip(t *testing.T) {
	for _, s := range []string{"", "/", "/h.b", "héllo/世界.bas"} {
		enc := HexEncodeString(s)
		dec, err := HexDecodeString(enc)
		require.NoError(t, err)
		require.Equal(t, s, dec)
	}
}

func TestHexDecodeOddLength(t *testing.T) {
	_, err := HexDecodeString([]byte("abc"))
	require.Error(t, err)
}

func TestHexUintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 0xa, 0x400, 0xdeadbeef} {
		enc := HexEncodeUint(v)
		got, err := HexDecodeUint(enc)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestPutPathExampleFromSpec(t *testing.T) {
	// vFile:open:0,201,0,2f682e62 for path "/h.b"
	require.Equal(t, "2f682e62", string(HexEncodeString("/h.b")))
}
