package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
	"github.com/ZentaChain/zentalk-chat/pkg/registry"
)

const nameCommand = "/name"

var ErrInputClosed = errors.New("input closed")

// Status is a point-in-time view of the runner
type Status struct {
	Self      string       `json:"self"`
	Name      string       `json:"name"`
	Serving   bool         `json:"serving"`
	Sent      uint64       `json:"sent"`
	Received  uint64       `json:"received"`
	Transport *Description `json:"transport,omitempty"`
}

// Runner connects user input and output to a transport. Input lines pass
// through a queue of capacity one, so a slow transport pushes back on the
// input reader rather than buffering without bound.
type Runner struct {
	registry *registry.Registry

	outMu sync.Mutex
	out   io.Writer

	maxLine   int
	lines     chan string
	inputOnce sync.Once
	inputDone chan struct{}

	mu      sync.RWMutex
	current Transport

	sent     atomic.Uint64
	received atomic.Uint64
}

// NewRunner creates a runner writing chat output to out. Input lines longer
// than maxLine bytes are reported and skipped; maxLine <= 0 uses the limit of
// a default-sized frame.
func NewRunner(reg *registry.Registry, out io.Writer, maxLine int) *Runner {
	if maxLine <= 0 {
		maxLine = protocol.MaxLineLength(protocol.MaxFrameSize)
	}
	return &Runner{
		registry:  reg,
		out:       out,
		maxLine:   maxLine,
		lines:     make(chan string, 1),
		inputDone: make(chan struct{}),
	}
}

// ReadInput feeds lines from in to the send path until EOF or ctx is done.
// Run it in its own goroutine.
func (r *Runner) ReadInput(ctx context.Context, in io.Reader) {
	defer r.closeInput()

	reader := bufio.NewReader(in)
	for {
		line, tooLong, err := readLine(reader, r.maxLine)
		switch {
		case tooLong:
			r.printf("* message too long, not sent\n")
		case line != "":
			select {
			case r.lines <- line:
			case <-ctx.Done():
				return
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Errorw("error reading input", "error", err)
			}
			return
		}
	}
}

// readLine reads one line without its terminator. A line longer than limit
// is consumed whole and reported as too long instead of being returned.
func readLine(br *bufio.Reader, limit int) (string, bool, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			// room for the limit plus a CRLF terminator
			if len(buf)+len(chunk) > limit+2 {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		line := strings.TrimSuffix(string(buf), "\n")
		line = strings.TrimSuffix(line, "\r")
		if tooLong || len(line) > limit {
			return "", true, err
		}
		return line, false, err
	}
}

func (r *Runner) closeInput() {
	r.inputOnce.Do(func() { close(r.inputDone) })
}

// InputDone is closed when the input source is exhausted
func (r *Runner) InputDone() <-chan struct{} {
	return r.inputDone
}

// Submit queues text on the send path as if it had been typed
func (r *Runner) Submit(ctx context.Context, text string) error {
	select {
	case <-r.inputDone:
		return ErrInputClosed
	default:
	}

	select {
	case r.lines <- text:
		return nil
	case <-r.inputDone:
		return ErrInputClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve runs one session on t until the input ends, ctx is cancelled or the
// transport fails. Shutdown happens in two phases: the send path stops first,
// then the transport is closed, which unblocks the receive path. Serve
// returns nil for a shutdown it initiated and the receive error otherwise.
func (r *Runner) Serve(ctx context.Context, t Transport) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Closing the transport releases a send blocked on a peer that stopped
	// reading, whichever side ends the session
	var closeOnce sync.Once
	closeTransport := func() {
		closeOnce.Do(func() {
			if err := t.Close(); err != nil {
				log.Debugw("transport close", "error", err)
			}
		})
	}
	stop := context.AfterFunc(sessCtx, closeTransport)
	defer stop()

	r.mu.Lock()
	r.current = t
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()
	}()

	var (
		wg      sync.WaitGroup
		recvErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		recvErr = r.receiveLoop(sessCtx, t)
	}()

	sendErr := r.sendLoop(sessCtx, t)
	cancel()
	closeTransport()
	wg.Wait()

	if sendErr != nil {
		return sendErr
	}
	if ctx.Err() == nil {
		return recvErr
	}
	return nil
}

func (r *Runner) receiveLoop(ctx context.Context, t Transport) error {
	for {
		body, err := t.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isSessionEnd(err) {
				log.Infow("session ended", "reason", err)
			} else {
				log.Errorw("session failed", "error", err)
			}
			return err
		}
		r.dispatch(body)
	}
}

func (r *Runner) sendLoop(ctx context.Context, t Transport) error {
	if err := t.Heartbeat(ctx); err != nil && ctx.Err() == nil {
		log.Warnw("initial heartbeat failed", "error", err)
	}

	interval := t.HeartbeatInterval()
	if interval <= 0 {
		interval = DefaultAnnounceInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-r.inputDone:
			// Drain a line that was queued before EOF
			select {
			case line := <-r.lines:
				r.handleLine(ctx, t, line)
			default:
			}
			return nil

		case line := <-r.lines:
			if err := r.handleLine(ctx, t, line); err != nil {
				return err
			}

		case <-ticker.C:
			if err := t.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				log.Warnw("heartbeat failed", "error", err)
			}
		}
	}
}

// handleLine runs a command or sends text. Only failures that end the
// session are returned.
func (r *Runner) handleLine(ctx context.Context, t Transport, line string) error {
	if name, ok := parseNameCommand(line); ok {
		if name == "" {
			r.printf("usage: %s <new name>\n", nameCommand)
			return nil
		}
		r.registry.Upsert(r.registry.Self(), name)
		r.printf("* you are now known as %s\n", r.registry.SelfName())
		if err := t.Heartbeat(ctx); err != nil && ctx.Err() == nil {
			log.Warnw("failed to announce new name", "error", err)
		}
		return nil
	}

	err := t.Send(ctx, line)
	switch {
	case err == nil:
		r.sent.Add(1)
		return nil
	case errors.Is(err, protocol.ErrFrameTooLarge):
		r.printf("* message too long, not sent\n")
		return nil
	case ctx.Err() != nil:
		return nil
	default:
		log.Errorw("failed to send message", "error", err)
		return fmt.Errorf("send failed: %w", err)
	}
}

func parseNameCommand(line string) (string, bool) {
	if line != nameCommand && !strings.HasPrefix(line, nameCommand+" ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, nameCommand)), true
}

func (r *Runner) dispatch(body protocol.Body) {
	r.received.Add(1)

	switch b := body.(type) {
	case *protocol.Announce:
		previous := r.registry.Resolve(b.Sender)
		r.registry.Upsert(b.Sender, b.Name)
		if current := r.registry.Resolve(b.Sender); current != previous {
			r.printf("* %s is now known as %s\n", previous, current)
		}

	case *protocol.Text:
		r.printf("%s: %s\n", r.registry.Resolve(b.Sender), b.Content)
	}
}

func (r *Runner) printf(format string, args ...interface{}) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// Status reports counters and the active transport
func (r *Runner) Status() Status {
	s := Status{
		Self:     r.registry.Self().String(),
		Name:     r.registry.SelfName(),
		Sent:     r.sent.Load(),
		Received: r.received.Load(),
	}

	r.mu.RLock()
	t := r.current
	r.mu.RUnlock()

	if t != nil {
		d := describe(t)
		s.Serving = true
		s.Transport = &d
	}
	return s
}
