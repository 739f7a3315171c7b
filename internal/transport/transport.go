// Package transport provides the byte-level I/O layer (L1): a Port
// abstraction over a serial device or a TCP socket, endpoint selection,
// and exclusive device locking. It deliberately avoids an inheritance-style
// design — Port is a thin capability interface implemented independently by
// each concrete endpoint kind.
package transport

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"spx/internal/discover"
	"spx/internal/spxerr"
	"spx/internal/spxlog"
)

// pollTimeout is the fixed, short read timeout both backends use so the
// session's reader goroutine can observe its stop signal promptly without
// the library-level timeout mutation tarm/serial does not support.
const pollTimeout = 100 * time.Millisecond

// Port is the capability every transport backend exposes to the session
// layer above it.
type Port interface {
	// Read returns (0, nil) on a plain timeout; any other failure is
	// returned as *spxerr.Error with Kind Io.
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Flush() error
	// DrainStale discards buffered input until a read times out empty,
	// clearing console banners or residue from a prior crashed session.
	DrainStale()
	Close() error
}

// Kind discriminates the two endpoint shapes.
type Kind int

const (
	Serial Kind = iota
	TCP
)

// Endpoint is a tagged transport target: either serial or TCP, never both.
type Endpoint struct {
	Kind Kind

	// Serial fields.
	Path string
	Baud int

	// TCP fields.
	Host string
	Port int
}

func (e Endpoint) String() string {
	if e.Kind == TCP {
		return e.Host + ":" + strconv.Itoa(e.Port)
	}
	return e.Path
}

const defaultFallbackHost = "localhost"
const defaultFallbackPort = 1337
const defaultBaud = 115200

// ParseEndpoint classifies s as TCP (contains ':' or is all digits) or
// serial (anything else), per spec.md §4.1.
func ParseEndpoint(s string) (Endpoint, error) {
	if s == "" {
		return Endpoint{}, spxerr.Errorf(spxerr.Invalid, "transport.ParseEndpoint", "empty endpoint")
	}

	isAllDigits := true
	for _, r := range s {
		if r < '0' || r > '9' {
			isAllDigits = false
			break
		}
	}

	if strings.Contains(s, ":") {
		host, portStr, err := splitHostPort(s)
		if err != nil {
			return Endpoint{}, spxerr.Errorf(spxerr.Invalid, "transport.ParseEndpoint", "bad host:port %q: %v", s, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Endpoint{}, spxerr.Errorf(spxerr.Invalid, "transport.ParseEndpoint", "bad port in %q: %v", s, err)
		}
		return Endpoint{Kind: TCP, Host: host, Port: port}, nil
	}

	if isAllDigits {
		port, _ := strconv.Atoi(s)
		return Endpoint{Kind: TCP, Host: defaultFallbackHost, Port: port}, nil
	}

	return Endpoint{Kind: Serial, Path: s, Baud: defaultBaud}, nil
}

func splitHostPort(s string) (host, port string, err error) {
	i := strings.LastIndex(s, ":")
	return s[:i], s[i+1:], nil
}

// SelectEndpoint implements the precedence chain from spec.md §4.1: an
// explicit endpoint wins, then $SPECTRANEXT_CLI, then device discovery,
// then the localhost:1337 fallback.
func SelectEndpoint(ctx context.Context, explicit string) (Endpoint, error) {
	if explicit != "" {
		return ParseEndpoint(explicit)
	}

	if env := os.Getenv("SPECTRANEXT_CLI"); env != "" {
		return ParseEndpoint(env)
	}

	if path, _, err := discover.Find(ctx); err == nil {
		spxlog.Debug("selected endpoint via device discovery", "path", path)
		return ParseEndpoint(path)
	}

	spxlog.Debug("falling back to default endpoint", "host", defaultFallbackHost, "port", defaultFallbackPort)
	return Endpoint{Kind: TCP, Host: defaultFallbackHost, Port: defaultFallbackPort}, nil
}

// Open opens the transport described by ep, acquiring the serial lock if
// applicable.
func Open(ep Endpoint) (Port, error) {
	switch ep.Kind {
	case Serial:
		return openSerial(ep)
	case TCP:
		return openTCP(ep)
	default:
		return nil, spxerr.Errorf(spxerr.Invalid, "transport.Open", "unknown endpoint kind %d", ep.Kind)
	}
}
