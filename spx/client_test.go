package spx

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spx/internal/rsptest"
	"spx/internal/session"
	"spx/internal/transport"
)

func dialMock(t *testing.T, script []rsptest.Step) (*Client, *rsptest.Server) {
	t.Helper()

	full := append([]rsptest.Step{{Reply: "PacketSize=400;vSpectranext+"}}, script...)
	srv, err := rsptest.Start(full)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	ep, err := transport.ParseEndpoint(srv.Addr())
	require.NoError(t, err)

	sess, err := session.Open(context.Background(), ep, false)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	return newClient(sess), srv
}

func TestLsReturnsFileAndDirEntries(t *testing.T) {
	c, _ := dialMock(t, []rsptest.Step{
		{Reply: "OK"},
		{Reply: "FOK,612e626173,F,2a"},
		{Reply: "FOK,646972,D,0"},
		{Reply: ""},
		{Reply: "OK"},
	})

	entries, err := c.Ls("/")
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{Name: "a.bas", Kind: 'F', Size: 42},
		{Name: "dir", Kind: 'D', Size: 0},
	}, entries)
}

func TestPutSendsExactPacketSequence(t *testing.T) {
	c, srv := dialMock(t, []rsptest.Step{
		{Reply: "F5"},
		{Reply: "F5"},
		{Reply: "F0"},
	})

	dir := t.TempDir()
	local := filepath.Join(dir, "h.b")
	require.NoError(t, os.WriteFile(local, []byte("HELLO"), 0o644))

	require.NoError(t, c.Put(local, "/h.b", nil))

	reqs := srv.Requests()
	require.Equal(t, "vFile:open:0,201,0,2f682e62", reqs[1])
	require.Equal(t, "vFile:pwrite:5,48454c4c4f", reqs[2])
	require.Equal(t, "vFile:close:5", reqs[3])
}

func TestGetWritesDecodedBytesToLocalFile(t *testing.T) {
	c, _ := dialMock(t, []rsptest.Step{
		{Reply: "F5"}, // size
		{Reply: "F7"}, // open
		{Reply: "48454c4c4f"}, // "HELLO"
		{Reply: "F0"}, // close
	})

	dir := t.TempDir()
	local := filepath.Join(dir, "out.b")
	require.NoError(t, c.Get("/h.b", local, nil))

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	require.Equal(t, "HELLO", string(data))
}

func TestExecWithoutFollowReturnsOnOK(t *testing.T) {
	c, _ := dialMock(t, []rsptest.Step{{Reply: "OK"}})
	var out bytes.Buffer
	err := c.Exec(context.Background(), "help", false, 0, &out, nil)
	require.NoError(t, err)
	require.Empty(t, out.String())
}

func TestExecFollowStreamsOutputThenReturns(t *testing.T) {
	c, _ := dialMock(t, []rsptest.Step{
		{Output: []string{"line one", "line two"}, OutputDelay: 10 * time.Millisecond, Reply: "OK"},
	})
	var out bytes.Buffer
	err := c.Exec(context.Background(), "help", true, 2*time.Second, &out, nil)
	require.NoError(t, err)
	require.Equal(t, "line oneline two", out.String())
}
