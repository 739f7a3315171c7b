package transport

import (
	"fmt"
	"net"
	"time"

	"spx/internal/spxerr"
)

// tcpPort drives a plain net.Conn with per-read deadlines set to pollTimeout
// so it honors the same "short, interruptible read" contract as serialPort,
// letting the session reader goroutine use identical logic against either
// backend.
type tcpPort struct {
	conn net.Conn
}

func openTCP(ep Endpoint) (Port, error) {
	addr := fmt.Sprintf("%s:%d", ep.Host, ep.Port)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, spxerr.Errorf(spxerr.Io, "transport.openTCP", "dial %s: %v", addr, err)
	}
	return &tcpPort{conn: conn}, nil
}

func (p *tcpPort) Read(b []byte) (int, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(pollTimeout)); err != nil {
		return 0, spxerr.New(spxerr.Io, "tcpPort.Read", err)
	}
	n, err := p.conn.Read(b)
	if err != nil {
		if isTimeout(err) {
			return 0, nil
		}
		return n, spxerr.New(spxerr.Io, "tcpPort.Read", err)
	}
	return n, nil
}

func (p *tcpPort) Write(b []byte) (int, error) {
	n, err := p.conn.Write(b)
	if err != nil {
		return n, spxerr.New(spxerr.Io, "tcpPort.Write", err)
	}
	return n, nil
}

func (p *tcpPort) Flush() error { return nil }

func (p *tcpPort) DrainStale() {
	drainStale(p)
}

func (p *tcpPort) Close() error {
	if err := p.conn.Close(); err != nil {
		return spxerr.New(spxerr.Io, "tcpPort.Close", err)
	}
	return nil
}
