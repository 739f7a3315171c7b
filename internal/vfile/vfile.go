// Package vfile implements the L4 typed wrappers over the device's
// vFile:*/vSpectranext:* packets and its qRcmd shell-command channel,
// grounded on the request/response shape of the teacher's
// host/mcu.go (sendIdentify's "build request, send, decode response"
// pattern), re-targeted at RSP's ASCII-hex/`F`/`E`-prefixed replies instead
// of Klipper's VLQ-encoded ones.
package vfile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"spx/internal/rsp"
	"spx/internal/session"
	"spx/internal/spxerr"
)

// GDB Target File I/O open flags (include/gdb/fileio.h), the encoding the
// device firmware expects in vFile:open's <flags> field.
const (
	FlagRDONLY = 0x0
	FlagWRONLY = 0x1
	FlagCreat  = 0x200
)

// FlagsPutWrite is the exact flags value spec.md's put scenario sends:
// O_WRONLY|O_CREAT. The device's RAMFS truncates on open-for-write, so no
// separate O_TRUNC bit is needed in this encoding.
const FlagsPutWrite = FlagWRONLY | FlagCreat

// EntryKind is a directory entry's type tag, 'D' or 'F' on the wire.
type EntryKind byte

const (
	KindFile EntryKind = 'F'
	KindDir  EntryKind = 'D'
)

// Entry is one vSpectranext:readdir result.
type Entry struct {
	Name string
	Kind EntryKind
	Size uint64
}

func send(s *session.Session, cmd string) (rsp.Packet, error) {
	return s.Send([]byte(cmd), 0)
}

// parseFErrno parses "F-1,<errno>" into a *spxerr.Error, or reports ok=false
// if payload isn't that shape.
func parseFErrno(op string, payload []byte) (*spxerr.Error, bool) {
	s := string(payload)
	rest, ok := strings.CutPrefix(s, "F-1,")
	if !ok {
		return nil, false
	}
	errno, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return spxerr.Errorf(spxerr.Io, op, "malformed F-1 errno %q", s), true
	}
	return spxerr.FromErrno(op, errno), true
}

// parseEErrno parses "E<errno>" into a *spxerr.Error, or reports ok=false.
func parseEErrno(op string, payload []byte) (*spxerr.Error, bool) {
	s := string(payload)
	if !strings.HasPrefix(s, "E") || len(s) < 2 {
		return nil, false
	}
	errno, err := strconv.Atoi(s[1:])
	if err != nil {
		return spxerr.Errorf(spxerr.Io, op, "malformed E errno %q", s), true
	}
	return spxerr.FromErrno(op, errno), true
}

// Open issues vFile:open and returns the device's file descriptor.
func Open(s *session.Session, path string, flags int) (int32, error) {
	const op = "vfile.Open"
	hexPath := rsp.HexEncodeString(path)
	cmd := fmt.Sprintf("vFile:open:0,%x,%s,%s", flags, "0", hexPath)

	resp, err := send(s, cmd)
	if err != nil {
		return 0, err
	}

	if e, ok := parseFErrno(op, resp.Payload); ok {
		return 0, e
	}

	rest, ok := strings.CutPrefix(string(resp.Payload), "F")
	if !ok {
		return 0, spxerr.Errorf(spxerr.Io, op, "unexpected response %q", resp.Payload)
	}
	fd, err := strconv.ParseInt(rest, 16, 32)
	if err != nil {
		return 0, spxerr.Errorf(spxerr.Io, op, "malformed fd in %q", resp.Payload)
	}
	return int32(fd), nil
}

// Close issues vFile:close.
func Close(s *session.Session, fd int32) error {
	const op = "vfile.Close"
	cmd := fmt.Sprintf("vFile:close:%x", fd)
	resp, err := send(s, cmd)
	if err != nil {
		return err
	}
	if e, ok := parseFErrno(op, resp.Payload); ok {
		return e
	}
	if string(resp.Payload) != "F0" {
		return spxerr.Errorf(spxerr.Io, op, "unexpected response %q", resp.Payload)
	}
	return nil
}

// Pread issues exactly one vFile:pread and returns what the device sent,
// which may be shorter than count (a legal short read, per spec.md §9) or
// empty (EOF). Looping to satisfy a larger request is the caller's job
// (spx.Get), not this function's.
func Pread(s *session.Session, fd int32, count int) ([]byte, error) {
	const op = "vfile.Pread"
	cmd := fmt.Sprintf("vFile:pread:%x,%x", fd, count)
	resp, err := send(s, cmd)
	if err != nil {
		return nil, err
	}
	if e, ok := parseFErrno(op, resp.Payload); ok {
		return nil, e
	}
	if len(resp.Payload) == 0 {
		return nil, nil // EOF
	}
	data, err := rsp.HexDecodeBytes(resp.Payload)
	if err != nil {
		return nil, spxerr.Errorf(spxerr.Io, op, "malformed pread payload: %v", err)
	}
	return data, nil
}

// Pwrite issues one vFile:pwrite and returns the number of bytes the device
// accepted (it may be fewer than len(data); the caller advances by the
// returned count, per spec.md §4.5).
func Pwrite(s *session.Session, fd int32, data []byte) (int, error) {
	const op = "vfile.Pwrite"
	cmd := fmt.Sprintf("vFile:pwrite:%x,%s", fd, rsp.HexEncodeBytes(data))
	resp, err := send(s, cmd)
	if err != nil {
		return 0, err
	}
	if e, ok := parseFErrno(op, resp.Payload); ok {
		return 0, e
	}
	rest, ok := strings.CutPrefix(string(resp.Payload), "F")
	if !ok {
		return 0, spxerr.Errorf(spxerr.Io, op, "unexpected response %q", resp.Payload)
	}
	n, err := strconv.ParseInt(rest, 16, 64)
	if err != nil {
		return 0, spxerr.Errorf(spxerr.Io, op, "malformed accepted-count in %q", resp.Payload)
	}
	return int(n), nil
}

// Size issues vFile:size.
func Size(s *session.Session, path string) (uint64, error) {
	const op = "vfile.Size"
	cmd := fmt.Sprintf("vFile:size:%s", rsp.HexEncodeString(path))
	resp, err := send(s, cmd)
	if err != nil {
		return 0, err
	}
	if e, ok := parseFErrno(op, resp.Payload); ok {
		return 0, e
	}
	rest, ok := strings.CutPrefix(string(resp.Payload), "F")
	if !ok {
		return 0, spxerr.Errorf(spxerr.Io, op, "unexpected response %q", resp.Payload)
	}
	size, err := strconv.ParseUint(rest, 16, 64)
	if err != nil {
		return 0, spxerr.Errorf(spxerr.Io, op, "malformed size in %q", resp.Payload)
	}
	return size, nil
}

// Exists issues vFile:exists.
func Exists(s *session.Session, path string) (bool, error) {
	const op = "vfile.Exists"
	cmd := fmt.Sprintf("vFile:exists:%s", rsp.HexEncodeString(path))
	resp, err := send(s, cmd)
	if err != nil {
		return false, err
	}
	if e, ok := parseFErrno(op, resp.Payload); ok {
		return false, e
	}
	switch string(resp.Payload) {
	case "F,1":
		return true, nil
	case "F,0":
		return false, nil
	default:
		return false, spxerr.Errorf(spxerr.Io, op, "unexpected response %q", resp.Payload)
	}
}

// Unlink issues vFile:unlink.
func Unlink(s *session.Session, path string) error {
	const op = "vfile.Unlink"
	cmd := fmt.Sprintf("vFile:unlink:%s", rsp.HexEncodeString(path))
	resp, err := send(s, cmd)
	if err != nil {
		return err
	}
	if e, ok := parseFErrno(op, resp.Payload); ok {
		return e
	}
	if string(resp.Payload) != "F0" {
		return spxerr.Errorf(spxerr.Io, op, "unexpected response %q", resp.Payload)
	}
	return nil
}

func expectOK(op string, resp rsp.Packet, err error) error {
	if err != nil {
		return err
	}
	if e, ok := parseEErrno(op, resp.Payload); ok {
		return e
	}
	if string(resp.Payload) != "OK" {
		return spxerr.Errorf(spxerr.Io, op, "unexpected response %q", resp.Payload)
	}
	return nil
}

// Opendir issues vSpectranext:opendir. Only one directory iterator may be
// open per connection (spec.md §3) — spx.Ls enforces this by always pairing
// it with Closedir in the same call.
func Opendir(s *session.Session, path string) error {
	const op = "vfile.Opendir"
	cmd := fmt.Sprintf("vSpectranext:opendir:%s", rsp.HexEncodeString(path))
	resp, err := send(s, cmd)
	return expectOK(op, resp, err)
}

// Readdir issues one vSpectranext:readdir and returns (nil, false, nil) at
// end of directory.
func Readdir(s *session.Session) (*Entry, bool, error) {
	const op = "vfile.Readdir"
	resp, err := send(s, "vSpectranext:readdir")
	if err != nil {
		return nil, false, err
	}
	if e, ok := parseEErrno(op, resp.Payload); ok {
		return nil, false, e
	}
	if len(resp.Payload) == 0 {
		return nil, false, nil
	}

	rest, ok := strings.CutPrefix(string(resp.Payload), "FOK,")
	if !ok {
		return nil, false, spxerr.Errorf(spxerr.Io, op, "unexpected response %q", resp.Payload)
	}
	parts := strings.SplitN(rest, ",", 3)
	if len(parts) != 3 {
		return nil, false, spxerr.Errorf(spxerr.Io, op, "malformed readdir entry %q", resp.Payload)
	}

	name, err := rsp.HexDecodeString([]byte(parts[0]))
	if err != nil {
		return nil, false, spxerr.Errorf(spxerr.Io, op, "malformed entry name: %v", err)
	}
	kind := EntryKind(strings.ToUpper(parts[1])[0])
	size, err := strconv.ParseUint(parts[2], 16, 64)
	if err != nil {
		return nil, false, spxerr.Errorf(spxerr.Io, op, "malformed entry size %q", parts[2])
	}
	if kind == KindDir {
		size = 0 // by convention, per spec.md §3
	}

	return &Entry{Name: name, Kind: kind, Size: size}, true, nil
}

// Closedir issues vSpectranext:closedir.
func Closedir(s *session.Session) error {
	const op = "vfile.Closedir"
	resp, err := send(s, "vSpectranext:closedir")
	return expectOK(op, resp, err)
}

// Mkdir issues vSpectranext:mkdir.
func Mkdir(s *session.Session, path string) error {
	const op = "vfile.Mkdir"
	cmd := fmt.Sprintf("vSpectranext:mkdir:%s", rsp.HexEncodeString(path))
	resp, err := send(s, cmd)
	return expectOK(op, resp, err)
}

// Rmdir issues vSpectranext:rmdir.
func Rmdir(s *session.Session, path string) error {
	const op = "vfile.Rmdir"
	cmd := fmt.Sprintf("vSpectranext:rmdir:%s", rsp.HexEncodeString(path))
	resp, err := send(s, cmd)
	return expectOK(op, resp, err)
}

// Mv issues vSpectranext:mv.
func Mv(s *session.Session, oldPath, newPath string) error {
	const op = "vfile.Mv"
	cmd := fmt.Sprintf("vSpectranext:mv:%s,%s", rsp.HexEncodeString(oldPath), rsp.HexEncodeString(newPath))
	resp, err := send(s, cmd)
	return expectOK(op, resp, err)
}

// Reboot issues vSpectranext:reboot. The device documents no failure
// response for this operation (spec.md §4.4).
func Reboot(s *session.Session) error {
	const op = "vfile.Reboot"
	resp, err := send(s, "vSpectranext:reboot")
	return expectOK(op, resp, err)
}

// Autoboot issues vSpectranext:autoboot.
func Autoboot(s *session.Session) error {
	const op = "vfile.Autoboot"
	resp, err := send(s, "vSpectranext:autoboot")
	return expectOK(op, resp, err)
}

// rcmdErrors maps qRcmd's E01-E04 codes to descriptive messages; all
// surface as spxerr.Invalid per spec.md §4.4.
var rcmdErrors = map[string]string{
	"E01": "invalid hex in command",
	"E02": "command too long",
	"E03": "too many arguments",
	"E04": "unknown command",
}

// Exec issues one qRcmd packet and waits for its terminal response
// (typically "OK") within responseTimeout (session.NoTimeout to block
// forever, used by follow mode). It does not itself loop over O-packets —
// the O-packets a running command emits arrive at whatever sink is
// currently installed on s (spx.Exec installs a follow-mode sink with
// session.Session.WithSink before calling this).
func Exec(s *session.Session, command string, responseTimeout time.Duration) error {
	const op = "vfile.Exec"
	cmd := fmt.Sprintf("qRcmd,%s", rsp.HexEncodeString(command))
	resp, err := s.Send([]byte(cmd), responseTimeout)
	if err != nil {
		return err
	}
	if msg, ok := rcmdErrors[string(resp.Payload)]; ok {
		return spxerr.Errorf(spxerr.Invalid, op, "%s", msg)
	}
	if string(resp.Payload) != "OK" {
		return spxerr.Errorf(spxerr.Io, op, "unexpected response %q", resp.Payload)
	}
	return nil
}
