package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZentaChain/zentalk-chat/pkg/crypto"
	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
)

const (
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultReadTimeout       = 90 * time.Second
	DefaultKeepAliveInterval = 30 * time.Second
	tcpKeepAlivePeriod       = 30 * time.Second
)

var ErrListenerClosed = errors.New("listener closed")

// DirectConfig configures direct-mode sessions
type DirectConfig struct {
	Identity          *crypto.KeyPair
	PSK               *crypto.Key // Optional pre-shared key
	MaxFrameSize      uint32
	HandshakeTimeout  time.Duration
	ReadTimeout       time.Duration // Half-open detection; 0 disables
	KeepAliveInterval time.Duration
}

// DefaultDirectConfig returns default direct-mode configuration
func DefaultDirectConfig(identity *crypto.KeyPair) *DirectConfig {
	return &DirectConfig{
		Identity:          identity,
		MaxFrameSize:      protocol.MaxFrameSize,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		ReadTimeout:       DefaultReadTimeout,
		KeepAliveInterval: DefaultKeepAliveInterval,
	}
}

func (c *DirectConfig) agreement() crypto.KeyAgreement {
	return crypto.NewHandshake(c.Identity, c.PSK)
}

// DirectSession is one encrypted point-to-point connection. The read half is
// used only by the receive path and the write half only by the send path.
type DirectSession struct {
	id     string
	conn   net.Conn
	remote protocol.PeerID

	in  *protocol.FrameReader
	out *protocol.FrameWriter

	readTimeout time.Duration
	keepAlive   time.Duration

	closeOnce sync.Once
}

// NewDirectSession runs the key agreement on conn and returns a ready
// session. conn is closed if the handshake fails.
func NewDirectSession(conn net.Conn, cfg *DirectConfig) (*DirectSession, error) {
	if cfg.HandshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}

	agreement, err := cfg.agreement().Agree(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	s := &DirectSession{
		id:          uuid.NewString(),
		conn:        conn,
		remote:      protocol.PeerIDFromPublicKey(agreement.RemoteStatic[:]),
		in:          protocol.NewFrameReader(conn, agreement.Session, cfg.MaxFrameSize),
		out:         protocol.NewFrameWriter(conn, agreement.Session, cfg.MaxFrameSize),
		readTimeout: cfg.ReadTimeout,
		keepAlive:   cfg.KeepAliveInterval,
	}

	if cfg.PSK == nil {
		log.Warnw("direct session has no pre-shared key, peer is not authenticated",
			"session", s.id, "remote", conn.RemoteAddr().String())
	}
	log.Infow("direct session established",
		"session", s.id, "remote", conn.RemoteAddr().String(), "peer", s.remote.Short())

	return s, nil
}

// Dial connects to addr and performs the handshake
func Dial(ctx context.Context, addr string, cfg *DirectConfig) (*DirectSession, error) {
	dialer := &net.Dialer{KeepAlive: tcpKeepAlivePeriod}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	return NewDirectSession(conn, cfg)
}

// ID returns the session identifier used in logs
func (s *DirectSession) ID() string {
	return s.id
}

// Remote returns the peer identifier derived from the remote static key
func (s *DirectSession) Remote() protocol.PeerID {
	return s.remote
}

// RemoteAddr returns the remote network address
func (s *DirectSession) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// KeepAliveInterval returns how often the send path should emit keep-alives
func (s *DirectSession) KeepAliveInterval() time.Duration {
	return s.keepAlive
}

// Send encrypts and sends one text line; the newline is appended here
func (s *DirectSession) Send(line string) error {
	return s.out.Send([]byte(line + "\n"))
}

// SendKeepAlive sends an empty frame
func (s *DirectSession) SendKeepAlive() error {
	return s.out.Send(nil)
}

// Receive blocks until the next text line arrives. Keep-alives are consumed
// silently. Each read is bounded by the read timeout, so a silent half-open
// connection ends with ErrConnectionClosed.
func (s *DirectSession) Receive() (string, error) {
	for {
		if s.readTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}

		plaintext, err := s.in.Receive()
		if err != nil {
			return "", err
		}
		if len(plaintext) == 0 {
			continue
		}

		line := strings.TrimSuffix(string(plaintext), "\n")
		line = strings.TrimSuffix(line, "\r")
		return strings.ToValidUTF8(line, "�"), nil
	}
}

// Close tears down the connection, unblocking Receive
func (s *DirectSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
		log.Debugw("direct session closed", "session", s.id)
	})
	return err
}

// DirectListener accepts direct-mode connections one at a time
type DirectListener struct {
	ln  net.Listener
	cfg *DirectConfig
}

// ListenDirect binds addr
func ListenDirect(addr string, cfg *DirectConfig) (*DirectListener, error) {
	lc := net.ListenConfig{KeepAlive: tcpKeepAlivePeriod}

	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return &DirectListener{ln: ln, cfg: cfg}, nil
}

// Addr returns the bound address
func (l *DirectListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for the next peer and completes the handshake with it.
// Cancelling ctx closes the listener.
func (l *DirectListener) Accept(ctx context.Context) (*DirectSession, error) {
	stop := context.AfterFunc(ctx, func() { l.ln.Close() })
	defer stop()

	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}

	log.Infow("accepted connection", "remote", conn.RemoteAddr().String())
	return NewDirectSession(conn, l.cfg)
}

// Close stops listening
func (l *DirectListener) Close() error {
	return l.ln.Close()
}
