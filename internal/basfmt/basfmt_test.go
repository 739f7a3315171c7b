package basfmt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"spx/internal/basfmt"
)

func TestSniffPlus3DOS(t *testing.T) {
	h := basfmt.BuildPlus3DOSHeader(100, 10)
	kind, err := basfmt.SniffHeader(h)
	require.NoError(t, err)
	require.Equal(t, basfmt.Plus3DOS, kind)
}

func TestSniffTape(t *testing.T) {
	h := basfmt.BuildTapeHeader("PROG", 50)
	kind, err := basfmt.SniffHeader(h)
	require.NoError(t, err)
	require.Equal(t, basfmt.Tape, kind)
}

func TestSniffUnknownShortInput(t *testing.T) {
	kind, err := basfmt.SniffHeader([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, basfmt.Unknown, kind)
}

func TestSniffMalformedLongInput(t *testing.T) {
	garbage := make([]byte, 20)
	garbage[0] = 5 // not a valid tape type byte per this sniffer's rule
	_, err := basfmt.SniffHeader(garbage)
	require.Error(t, err)
}
