// Package session implements the reader goroutine, ACK/NAK exchange, and
// qSupported capability negotiation (L3). It is grounded on the teacher's
// protocol/transport_host.go (HostTransport.readLoop/processMessages split,
// its buffered ack/response channels), re-targeted from Klipper's
// length-prefixed binary framing to RSP's delimiter-based "$...#cc" framing.
//
// run() is the transport's only reader for the Session's lifetime, per
// spec.md §3/§5: Send never calls port.Read itself, even to discard stale
// bytes before a retransmit — it asks run() to do that via resyncCh.
package session

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"spx/internal/rsp"
	"spx/internal/spxerr"
	"spx/internal/spxlog"
	"spx/internal/transport"
)

// OutputSink receives decoded text from inbound O-packets.
type OutputSink func(text string)

// DefaultSink is the sink installed on every new Session; it matches
// spec.md §4.3's "prefixed with [LOG] " default behavior.
func DefaultSink(text string) {
	spxlog.Info("[LOG] " + text)
}

// NoTimeout tells Send to wait indefinitely for a response, required by
// exec's follow mode.
const NoTimeout time.Duration = -1

const (
	ackTimeout            = 5 * time.Second
	defaultResponseWindow = 5 * time.Second
	maxSendAttempts       = 4 // 1 initial send + 3 retries, per spec.md §4.3
	defaultMaxPacketSize  = 1024
)

// Session owns one live connection: the transport, its reader goroutine,
// and the channels the reader uses to hand frames to Send/negotiate.
type Session struct {
	port transport.Port

	sinkMu sync.RWMutex
	sink   OutputSink

	maxPacketSize int64 // atomic

	ackCh  chan rsp.Packet
	respCh chan rsp.Packet

	// resyncCh lets Send ask the reader goroutine itself to discard any
	// buffered-but-unread bytes before a retransmit, so the single-reader
	// invariant in spec.md §3/§5 holds: only run() ever calls port.Read.
	resyncCh chan chan struct{}

	sendMu sync.Mutex

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	verbose bool
}

// Open connects to ep: opens the transport, drains stale input, starts the
// reader goroutine, and negotiates capabilities via qSupported. On any
// failure the transport is closed before returning.
func Open(ctx context.Context, ep transport.Endpoint, verbose bool) (*Session, error) {
	port, err := transport.Open(ep)
	if err != nil {
		return nil, err
	}

	s := &Session{
		port:          port,
		sink:          DefaultSink,
		maxPacketSize: defaultMaxPacketSize,
		ackCh:         make(chan rsp.Packet, 1),
		respCh:        make(chan rsp.Packet, 16),
		resyncCh:      make(chan chan struct{}),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		verbose:       verbose,
	}

	port.DrainStale()
	go s.run()

	if err := s.negotiate(ctx); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// MaxPacketSize returns the negotiated PacketSize (default 1024 until
// qSupported has been processed).
func (s *Session) MaxPacketSize() int {
	return int(atomic.LoadInt64(&s.maxPacketSize))
}

// WithSink installs sink for the duration of the call and returns a restore
// function; callers use it in a scoped-cleanup (defer restore()) pattern,
// matching the "installable sink" design in spec.md §9.
func (s *Session) WithSink(sink OutputSink) (restore func()) {
	s.sinkMu.Lock()
	prev := s.sink
	s.sink = sink
	s.sinkMu.Unlock()

	return func() {
		s.sinkMu.Lock()
		s.sink = prev
		s.sinkMu.Unlock()
	}
}

func (s *Session) currentSink() OutputSink {
	s.sinkMu.RLock()
	defer s.sinkMu.RUnlock()
	return s.sink
}

// negotiate sends qSupported and requires the vSpectranext+ token in the
// response, per spec.md §4.3.
func (s *Session) negotiate(ctx context.Context) error {
	resp, err := s.Send([]byte("qSupported"), defaultResponseWindow)
	if err != nil {
		return err
	}

	payload := string(resp.Payload)
	if !strings.Contains(payload, "vSpectranext+") {
		return spxerr.Errorf(spxerr.NotSupported, "session.negotiate", "device did not advertise vSpectranext+ (got %q)", payload)
	}

	for _, field := range strings.Split(payload, ";") {
		if rest, ok := strings.CutPrefix(field, "PacketSize="); ok {
			size, err := strconv.ParseInt(strings.TrimSpace(rest), 16, 64)
			if err == nil {
				s.raiseMaxPacketSize(size)
			}
		}
	}

	return nil
}

// raiseMaxPacketSize enforces the monotonic invariant from spec.md §3: the
// negotiated size is never lowered.
func (s *Session) raiseMaxPacketSize(candidate int64) {
	for {
		cur := atomic.LoadInt64(&s.maxPacketSize)
		if candidate <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&s.maxPacketSize, cur, candidate) {
			return
		}
	}
}

// Send frames payload, writes it, waits for an ACK (retrying on NAK up to
// maxSendAttempts-1 times), then waits for the response packet. A
// responseTimeout of NoTimeout blocks forever, required by exec's follow
// mode; any other non-positive value uses defaultResponseWindow.
func (s *Session) Send(payload []byte, responseTimeout time.Duration) (rsp.Packet, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	frame := rsp.Frame(payload)

	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if attempt > 0 {
			if err := s.requestResync(); err != nil {
				return rsp.Packet{}, err
			}
		}

		if _, err := s.port.Write(frame); err != nil {
			return rsp.Packet{}, err
		}

		ack, err := s.waitAck()
		if err != nil {
			return rsp.Packet{}, err
		}

		if ack.Kind == rsp.KindAck {
			return s.waitResponse(responseTimeout)
		}
		// Kind == KindNak: fall through and retry.
	}

	return rsp.Packet{}, spxerr.Errorf(spxerr.Io, "session.Send", "NAK after retries")
}

// requestResync asks the reader goroutine to discard any buffered-but-
// unread input before Send retransmits, without Send ever touching the
// port itself — the reader remains the transport's sole caller of Read.
func (s *Session) requestResync() error {
	done := make(chan struct{})

	select {
	case s.resyncCh <- done:
	case <-s.stopCh:
		return spxerr.Errorf(spxerr.Io, "session.requestResync", "session closed")
	}

	select {
	case <-done:
		return nil
	case <-s.stopCh:
		return spxerr.Errorf(spxerr.Io, "session.requestResync", "session closed")
	}
}

func (s *Session) waitAck() (rsp.Packet, error) {
	select {
	case pkt := <-s.ackCh:
		return pkt, nil
	case <-time.After(ackTimeout):
		return rsp.Packet{}, spxerr.Errorf(spxerr.Io, "session.waitAck", "ACK timeout after %s", ackTimeout)
	case <-s.stopCh:
		return rsp.Packet{}, spxerr.Errorf(spxerr.Io, "session.waitAck", "session closed")
	}
}

func (s *Session) waitResponse(timeout time.Duration) (rsp.Packet, error) {
	if timeout <= 0 && timeout != NoTimeout {
		timeout = defaultResponseWindow
	}

	if timeout == NoTimeout {
		select {
		case pkt := <-s.respCh:
			return pkt, nil
		case <-s.stopCh:
			return rsp.Packet{}, spxerr.Errorf(spxerr.Io, "session.waitResponse", "session closed")
		}
	}

	select {
	case pkt := <-s.respCh:
		return pkt, nil
	case <-time.After(timeout):
		return rsp.Packet{}, spxerr.Errorf(spxerr.Io, "session.waitResponse", "response timeout after %s", timeout)
	case <-s.stopCh:
		return rsp.Packet{}, spxerr.Errorf(spxerr.Io, "session.waitResponse", "session closed")
	}
}

// Close signals the reader to stop, waits briefly for it to exit, then
// closes the transport unconditionally, per spec.md §4.3/§5.
func (s *Session) Close() error {
	s.once.Do(func() { close(s.stopCh) })

	select {
	case <-s.doneCh:
	case <-time.After(100 * time.Millisecond):
	}

	return s.port.Close()
}

// run is the reader goroutine: the sole reader of the transport, for the
// lifetime of the Session.
func (s *Session) run() {
	defer close(s.doneCh)

	var pending []byte
	// readByte returns the next inbound byte. When idle (between frames) it
	// also services resync requests from Send while waiting for input.
	readByte := func(idle bool) (byte, bool) {
		for len(pending) == 0 {
			var resync chan chan struct{}
			if idle {
				resync = s.resyncCh
			}
			select {
			case <-s.stopCh:
				return 0, false
			case done := <-resync:
				s.drainBuffered()
				close(done)
				continue
			default:
			}

			buf := make([]byte, 512)
			n, err := s.port.Read(buf)
			if err != nil {
				return 0, false
			}
			if n == 0 {
				continue
			}
			pending = buf[:n]
		}
		b := pending[0]
		pending = pending[1:]
		return b, true
	}

	for {
		select {
		case <-s.stopCh:
			return
		case done := <-s.resyncCh:
			pending = nil
			s.drainBuffered()
			close(done)
			continue
		default:
		}

		b, ok := readByte(true)
		if !ok {
			return
		}

		switch b {
		case '+':
			s.enqueueAck(rsp.Packet{Kind: rsp.KindAck})
		case '-':
			s.enqueueAck(rsp.Packet{Kind: rsp.KindNak})
		case '$':
			escaped := make([]byte, 0, 64)
			for {
				nb, ok := readByte(false)
				if !ok {
					return
				}
				if nb == '#' {
					break
				}
				escaped = append(escaped, nb)
			}

			hi, ok := readByte(false)
			if !ok {
				return
			}
			lo, ok := readByte(false)
			if !ok {
				return
			}

			if rsp.VerifyChecksum(escaped, hi, lo) {
				_, _ = s.port.Write(rsp.Ack)
				s.dispatch(rsp.Unescape(escaped))
			} else {
				_, _ = s.port.Write(rsp.Nak)
			}
		default:
			// Noise outside a frame: dropped, per spec.md §4.3 step 1.
		}
	}
}

// drainBuffered discards input until a read times out empty, run()'s own
// version of transport.Port's DrainStale contract — performed here, by the
// sole reader, instead of racing a second Read call in from Send.
func (s *Session) drainBuffered() {
	buf := make([]byte, 4096)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		n, err := s.port.Read(buf)
		if err != nil || n == 0 {
			return
		}
	}
}

// enqueueAck never blocks: the ack channel is size 1 and Send always drains
// it before issuing the next packet, per the one-outstanding-packet
// invariant in spec.md §3.
func (s *Session) enqueueAck(pkt rsp.Packet) {
	select {
	case s.ackCh <- pkt:
	default:
		<-s.ackCh
		s.ackCh <- pkt
	}
}

// dispatch classifies a verified, unescaped payload as either a streamed
// O-packet (delivered to the current sink) or a response (pushed onto
// respCh, dropping the oldest entry if the caller has fallen behind).
func (s *Session) dispatch(payload []byte) {
	if len(payload) > 0 && payload[0] == 'O' {
		text, err := rsp.HexDecodeString(payload[1:])
		if err != nil {
			spxlog.Debug("malformed O-packet dropped", "error", err)
			return
		}
		s.currentSink()(text)
		return
	}

	pkt := rsp.Packet{Kind: rsp.KindData, Payload: payload}
	select {
	case s.respCh <- pkt:
	default:
		select {
		case <-s.respCh:
		default:
		}
		s.respCh <- pkt
	}
}
