package vfile_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"spx/internal/rsptest"
	"spx/internal/session"
	"spx/internal/spxerr"
	"spx/internal/transport"
	"spx/internal/vfile"
)

func dialMock(t *testing.T, script []rsptest.Step) (*session.Session, *rsptest.Server) {
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

	return sess, srv
}

func TestOpenPreadClose(t *testing.T) {
	sess, srv := dialMock(t, []rsptest.Step{
		{Reply: "F5"},
		{Reply: "68656c6c6f"}, // "hello"
		{Reply: "F0"},
	})

	fd, err := vfile.Open(sess, "/h.b", vfile.FlagRDONLY)
	require.NoError(t, err)
	require.EqualValues(t, 5, fd)

	data, err := vfile.Pread(sess, fd, 16)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	require.NoError(t, vfile.Close(sess, fd))

	reqs := srv.Requests()
	require.Equal(t, "vFile:open:0,0,0,2f682e62", reqs[1])
	require.Equal(t, "vFile:pread:5,10", reqs[2])
	require.Equal(t, "vFile:close:5", reqs[3])
}

func TestPreadEOFIsEmptyNotError(t *testing.T) {
	sess, _ := dialMock(t, []rsptest.Step{{Reply: ""}})
	data, err := vfile.Pread(sess, 3, 10)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestOpenErrnoMapsToNotFound(t *testing.T) {
	sess, _ := dialMock(t, []rsptest.Step{{Reply: "F-1,2"}})
	_, err := vfile.Open(sess, "/missing", vfile.FlagRDONLY)
	require.Error(t, err)
	var se *spxerr.Error
	require.ErrorAs(t, err, &se)
	require.Equal(t, spxerr.NotFound, se.Kind)
}

func TestExistsTrueFalse(t *testing.T) {
	sess, _ := dialMock(t, []rsptest.Step{{Reply: "F,1"}, {Reply: "F,0"}})

	ok, err := vfile.Exists(sess, "/a.bas")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = vfile.Exists(sess, "/b.bas")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReaddirSequenceAndEnd(t *testing.T) {
	sess, _ := dialMock(t, []rsptest.Step{
		{Reply: "OK"}, // opendir
		{Reply: "FOK,612e626173,F,2a"},
		{Reply: "FOK,646972,D,0"},
		{Reply: ""}, // end
		{Reply: "OK"}, // closedir
	})

	require.NoError(t, vfile.Opendir(sess, "/"))

	e1, ok, err := vfile.Readdir(sess)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a.bas", e1.Name)
	require.Equal(t, vfile.KindFile, e1.Kind)
	require.EqualValues(t, 42, e1.Size)

	e2, ok, err := vfile.Readdir(sess)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "dir", e2.Name)
	require.Equal(t, vfile.KindDir, e2.Kind)

	_, ok, err = vfile.Readdir(sess)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, vfile.Closedir(sess))
}

func TestMkdirRmdirMv(t *testing.T) {
	sess, _ := dialMock(t, []rsptest.Step{
		{Reply: "OK"},
		{Reply: "OK"},
		{Reply: "OK"},
	})
	require.NoError(t, vfile.Mkdir(sess, "/new"))
	require.NoError(t, vfile.Rmdir(sess, "/new"))
	require.NoError(t, vfile.Mv(sess, "/a", "/b"))
}

func TestExecRcmdErrorCodes(t *testing.T) {
	sess, _ := dialMock(t, []rsptest.Step{{Reply: "E04"}})
	err := vfile.Exec(sess, "bogus", 0)
	require.Error(t, err)
	var se *spxerr.Error
	require.ErrorAs(t, err, &se)
	require.Equal(t, spxerr.Invalid, se.Kind)
}
