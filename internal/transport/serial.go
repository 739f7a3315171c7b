package transport

import (
	"github.com/tarm/serial"

	"spx/internal/spxerr"
)

// serialPort wraps github.com/tarm/serial (the teacher's own serial
// library), grounded on host/serial/serial_native.go, with the exclusive
// device lock from spec.md §4.1 layered on top.
type serialPort struct {
	port *serial.Port
	lock *deviceLock
}

func openSerial(ep Endpoint) (Port, error) {
	baud := ep.Baud
	if baud == 0 {
		baud = defaultBaud
	}

	lock, err := acquireLock(ep.Path)
	if err != nil {
		return nil, err
	}

	cfg := &serial.Config{
		Name:        ep.Path,
		Baud:        baud,
		ReadTimeout: pollTimeout,
	}

	port, err := serial.OpenPort(cfg)
	if err != nil {
		lock.release()
		return nil, spxerr.Errorf(spxerr.Io, "transport.openSerial", "open %s: %v", ep.Path, err)
	}

	return &serialPort{port: port, lock: lock}, nil
}

func (p *serialPort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if err != nil {
		if isTimeout(err) {
			return 0, nil
		}
		return n, spxerr.New(spxerr.Io, "serialPort.Read", err)
	}
	return n, nil
}

func (p *serialPort) Write(b []byte) (int, error) {
	n, err := p.port.Write(b)
	if err != nil {
		return n, spxerr.New(spxerr.Io, "serialPort.Write", err)
	}
	return n, nil
}

func (p *serialPort) Flush() error {
	// tarm/serial does not expose an explicit flush; Write already blocks
	// until the bytes are handed to the OS, so there is nothing to drain.
	return nil
}

func (p *serialPort) DrainStale() {
	drainStale(p)
}

func (p *serialPort) Close() error {
	err := p.port.Close()
	p.lock.release()
	if err != nil {
		return spxerr.New(spxerr.Io, "serialPort.Close", err)
	}
	return nil
}

// drainStale implements spec.md §4.1's stale-input drain: read-and-discard
// with a 100ms timeout until an empty read occurs. Shared by both backends
// since neither Flush() can discard bytes already sitting in transit.
func drainStale(p Port) {
	buf := make([]byte, 4096)
	for {
		n, err := p.Read(buf)
		if err != nil || n == 0 {
			return
		}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
