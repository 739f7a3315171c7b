package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spx/internal/rsptest"
	"spx/internal/transport"
)

func dialMock(t *testing.T, script []rsptest.Step) (*Session, *rsptest.Server) {
	t.Helper()

	srv, err := rsptest.Start(script)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	ep, err := transport.ParseEndpoint(srv.Addr())
	require.NoError(t, err)

	sess, err := Open(context.Background(), ep, false)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	return sess, srv
}

func TestOpenNegotiatesPacketSize(t *testing.T) {
	sess, _ := dialMock(t, []rsptest.Step{
		{Reply: "PacketSize=400;vSpectranext+"},
	})
	require.Equal(t, 1024, sess.MaxPacketSize())
}

func TestOpenRejectsDeviceWithoutCapability(t *testing.T) {
	srv, err := rsptest.Start([]rsptest.Step{
		{Reply: "PacketSize=400"},
	})
	require.NoError(t, err)
	defer srv.Close()

	ep, err := transport.ParseEndpoint(srv.Addr())
	require.NoError(t, err)

	_, err = Open(context.Background(), ep, false)
	require.Error(t, err)
}

func TestSendRetriesOnNAK(t *testing.T) {
	sess, srv := dialMock(t, []rsptest.Step{
		{NAKsBeforeAck: 2, Reply: "PacketSize=400;vSpectranext+"},
	})
	_ = sess

	// The connect-time qSupported is the packet under test: the mock NAKed
	// it twice before ACKing, per spec.md §8 scenario 4.
	require.Len(t, srv.Requests(), 1)
	require.Equal(t, "qSupported", srv.Requests()[0])
}

func TestRaiseMaxPacketSizeNeverLowers(t *testing.T) {
	sess, _ := dialMock(t, []rsptest.Step{
		{Reply: "PacketSize=800;vSpectranext+"},
	})
	require.Equal(t, 2048, sess.MaxPacketSize())

	sess.raiseMaxPacketSize(100)
	require.Equal(t, 2048, sess.MaxPacketSize())

	sess.raiseMaxPacketSize(4096)
	require.Equal(t, 4096, sess.MaxPacketSize())
}

func TestChecksumCorruptionTriggersRetransmit(t *testing.T) {
	sess, _ := dialMock(t, []rsptest.Step{
		{Reply: "PacketSize=400;vSpectranext+"},
		{CorruptReply: true, Reply: "OK"},
	})

	resp, err := sess.Send([]byte("vSpectranext:reboot"), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "OK", string(resp.Payload))
}

func TestOutputPacketsReachInstalledSink(t *testing.T) {
	var received []string
	sess, _ := dialMock(t, []rsptest.Step{
		{Reply: "PacketSize=400;vSpectranext+"},
		{Output: []string{"hello", "world"}, Reply: "OK"},
	})
	restore := sess.WithSink(func(text string) { received = append(received, text) })
	defer restore()

	resp, err := sess.Send([]byte("qRcmd,68656c70"), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "OK", string(resp.Payload))
	require.Eventually(t, func() bool { return len(received) == 2 }, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"hello", "world"}, received)
}
