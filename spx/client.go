// Package spx is the high-level API (L5): a Client wraps a negotiated
// session and exposes one method per user-facing operation, chunking
// get/put against the negotiated packet size the way the teacher's
// host/mcu.go RetrieveDictionary chunks against the MCU's identify
// response size.
package spx

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"spx/internal/session"
	"spx/internal/spxerr"
	"spx/internal/transport"
	"spx/internal/vfile"
)

// Entry is one directory listing result, surfaced from internal/vfile's
// wire-shaped Entry without exposing that package's types to callers.
type Entry struct {
	Name string
	Kind byte // 'F' or 'D'
	Size uint64
}

// Progress receives byte-count updates during Get/Put; implementations
// backed by github.com/vbauerster/mpb/v8 live in spx/progress.go.
type Progress interface {
	Start(total int64)
	Add(n int64)
	Done()
}

// noProgress is installed when the caller passes nil or output isn't a
// terminal; every method is a no-op.
type noProgress struct{}

func (noProgress) Start(int64) {}
func (noProgress) Add(int64)   {}
func (noProgress) Done()       {}

// Client is the connected, negotiated handle callers drive every operation
// through. Construct with Connect; always Close when done.
type Client struct {
	sess *session.Session

	readChunk  int
	writeChunk int
}

// Connect resolves ep (or discovers/falls back, via transport.SelectEndpoint,
// if explicit is empty), opens the transport, and negotiates capabilities.
func Connect(ctx context.Context, explicit string, verbose bool) (*Client, error) {
	ep, err := transport.SelectEndpoint(ctx, explicit)
	if err != nil {
		return nil, err
	}

	sess, err := session.Open(ctx, ep, verbose)
	if err != nil {
		return nil, err
	}

	return newClient(sess), nil
}

func newClient(sess *session.Session) *Client {
	size := sess.MaxPacketSize()
	return &Client{
		sess:       sess,
		readChunk:  (size - 1) / 2,
		writeChunk: (size - 25) / 2,
	}
}

// Close releases the underlying session and transport.
func (c *Client) Close() error {
	return c.sess.Close()
}

// Ls lists a directory: opendir, repeat readdir until an empty response,
// then unconditionally closedir.
func (c *Client) Ls(path string) ([]Entry, error) {
	if err := vfile.Opendir(c.sess, path); err != nil {
		return nil, err
	}
	defer vfile.Closedir(c.sess)

	var entries []Entry
	for {
		ent, ok, err := vfile.Readdir(c.sess)
		if err != nil {
			return entries, err
		}
		if !ok {
			break
		}
		entries = append(entries, Entry{Name: ent.Name, Kind: byte(ent.Kind), Size: ent.Size})
	}
	return entries, nil
}

// Get downloads remote into local, reporting byte progress via prog (nil
// is accepted and treated as no-op).
func (c *Client) Get(remote, local string, prog Progress) error {
	if prog == nil {
		prog = noProgress{}
	}

	total, err := vfile.Size(c.sess, remote)
	if err != nil {
		return err
	}

	fd, err := vfile.Open(c.sess, remote, vfile.FlagRDONLY)
	if err != nil {
		return err
	}
	defer vfile.Close(c.sess, fd)

	out, err := os.Create(local)
	if err != nil {
		return spxerr.New(spxerr.Io, "spx.Get", err)
	}
	defer out.Close()

	prog.Start(int64(total))
	defer prog.Done()

	var received uint64
	for received < total {
		want := c.readChunk
		if remaining := total - received; remaining < uint64(want) {
			want = int(remaining)
		}

		data, err := vfile.Pread(c.sess, fd, want)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			break // EOF before the advertised size was reached
		}

		if _, err := out.Write(data); err != nil {
			return spxerr.New(spxerr.Io, "spx.Get", err)
		}
		received += uint64(len(data))
		prog.Add(int64(len(data)))
	}

	return nil
}

// Put uploads local to remote, truncating/creating it on the device.
func (c *Client) Put(local, remote string, prog Progress) error {
	if prog == nil {
		prog = noProgress{}
	}

	f, err := os.Open(local)
	if err != nil {
		return spxerr.New(spxerr.Io, "spx.Put", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return spxerr.New(spxerr.Io, "spx.Put", err)
	}

	fd, err := vfile.Open(c.sess, remote, vfile.FlagsPutWrite)
	if err != nil {
		return err
	}
	defer vfile.Close(c.sess, fd)

	prog.Start(info.Size())
	defer prog.Done()

	buf := make([]byte, c.writeChunk)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for len(chunk) > 0 {
				accepted, err := vfile.Pwrite(c.sess, fd, chunk)
				if err != nil {
					return err
				}
				if accepted <= 0 {
					return spxerr.Errorf(spxerr.Io, "spx.Put", "device accepted 0 bytes of %d offered", len(chunk))
				}
				chunk = chunk[accepted:]
				prog.Add(int64(accepted))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return spxerr.New(spxerr.Io, "spx.Put", readErr)
		}
	}

	return nil
}

// Rm unlinks a remote file.
func (c *Client) Rm(path string) error { return vfile.Unlink(c.sess, path) }

// Mv renames a remote file or directory.
func (c *Client) Mv(oldPath, newPath string) error { return vfile.Mv(c.sess, oldPath, newPath) }

// Mkdir creates a remote directory.
func (c *Client) Mkdir(path string) error { return vfile.Mkdir(c.sess, path) }

// Rmdir removes a remote directory.
func (c *Client) Rmdir(path string) error { return vfile.Rmdir(c.sess, path) }

// Reboot reboots the device.
func (c *Client) Reboot() error { return vfile.Reboot(c.sess) }

// Autoboot toggles the device's autoboot mode.
func (c *Client) Autoboot() error { return vfile.Autoboot(c.sess) }

// execPollTick is how often follow mode checks its cancellation flag against
// a deadline/cancel request while waiting for the OK response.
const execPollTick = 100 * time.Millisecond

// Exec runs a shell command on the device. Without follow, it returns as
// soon as the OK response arrives; any O-packets that arrive afterward are
// not displayed (spec's Open Question: the client does not wait for them).
// With follow, it streams every O-packet's decoded text to out as it
// arrives, until OK, followFor elapsing (0 means no deadline), or cancel
// being closed.
func (c *Client) Exec(ctx context.Context, command string, follow bool, followFor time.Duration, out io.Writer, cancel <-chan struct{}) error {
	if !follow {
		return vfile.Exec(c.sess, command, 0)
	}

	var stopped atomic.Bool
	restore := c.sess.WithSink(func(text string) {
		if stopped.Load() {
			return
		}
		io.WriteString(out, text)
	})
	defer restore()

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- vfile.Exec(c.sess, command, session.NoTimeout)
	}()

	var deadline <-chan time.Time
	if followFor > 0 {
		timer := time.NewTimer(followFor)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(execPollTick)
	defer ticker.Stop()

	for {
		select {
		case err := <-resultCh:
			stopped.Store(true)
			return err
		case <-deadline:
			stopped.Store(true)
			return nil
		case <-cancel:
			stopped.Store(true)
			return nil
		case <-ctx.Done():
			stopped.Store(true)
			return ctx.Err()
		case <-ticker.C:
			// wake up to re-check deadline/cancel/ctx without blocking forever
		}
	}
}
