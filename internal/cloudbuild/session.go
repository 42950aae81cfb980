package cloudbuild

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shipyard-cli/shipyard/internal/debug"
)

// Options configures sessions and the dialer.
type Options struct {
	// Server is the build service base URL, e.g. "http://localhost:3000".
	Server string
	// Timeout bounds the wait for the connection ack. Zero means
	// DefaultTimeout.
	Timeout time.Duration
	// Retries is the number of extra connect attempts Dialer.Open makes
	// after a connect or timeout failure.
	Retries int
	// OnEvent receives progress and status events in arrival order.
	OnEvent func(Event)
	// WSDialer overrides the websocket dialer.
	WSDialer *websocket.Dialer
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// Session is one connection to the build service driving a single build.
// A reader goroutine started by Connect owns all reads; frames reach Run
// through an ordered channel.
type Session struct {
	opts Options

	conn   *websocket.Conn
	id     string
	frames chan Frame
	// readErr is written by the reader before frames is closed.
	readErr error

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession creates an unconnected session.
func NewSession(opts Options) *Session {
	return &Session{
		opts: opts,
		done: make(chan struct{}),
	}
}

// ID returns the session id assigned by the server's ack.
func (s *Session) ID() string {
	return s.id
}

// URL returns the websocket URL for req.
func URL(server string, req Request) (string, error) {
	base := strings.TrimRight(server, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)

	u, err := url.Parse(base + "/build")
	if err != nil {
		return "", fmt.Errorf("cloudbuild: parse server url: %w", err)
	}
	q := u.Query()
	q.Set("name", req.Name)
	q.Set("version", req.Version)
	q.Set("remoteRepoUrl", req.RemoteURL)
	q.Set("branch", req.Branch)
	q.Set("buildCommand", req.BuildCommand)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the service and waits for its ack. On any failure the
// connection is closed before returning.
func (s *Session) Connect(ctx context.Context, req Request) error {
	if s.conn != nil {
		return errors.New("cloudbuild: session already connected")
	}
	wsURL, err := URL(s.opts.Server, req)
	if err != nil {
		return &BuildConnectError{Server: s.opts.Server, Err: err}
	}

	timeout := s.opts.timeout()
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := s.opts.WSDialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	debug.Logf("cloudbuild: dialing %s\n", wsURL)
	conn, resp, err := dialer.DialContext(connectCtx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(connectCtx.Err(), context.DeadlineExceeded) {
			return &BuildTimeoutError{Server: s.opts.Server, Timeout: timeout}
		}
		return &BuildConnectError{Server: s.opts.Server, Err: err}
	}

	s.conn = conn
	s.frames = make(chan Frame, 64)
	go s.readLoop()

	for {
		select {
		case frame, ok := <-s.frames:
			if !ok {
				s.Close()
				return &BuildConnectError{Server: s.opts.Server, Message: "connection closed before acknowledgement", Err: s.readErr}
			}
			switch frame.Event {
			case EventConnect:
				var ack connectAck
				if err := json.Unmarshal(frame.Data, &ack); err != nil || ack.ID == "" {
					s.Close()
					return &BuildConnectError{Server: s.opts.Server, Message: "malformed connect acknowledgement"}
				}
				s.id = ack.ID
				debug.Logf("cloudbuild: connected, session %s\n", s.id)
				return nil
			case EventConnectError:
				s.Close()
				return &BuildConnectError{Server: s.opts.Server, Message: messageOf(frame.Data)}
			default:
				debug.Logf("cloudbuild: ignoring %q before acknowledgement\n", frame.Event)
			}
		case <-connectCtx.Done():
			s.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &BuildTimeoutError{Server: s.opts.Server, Timeout: timeout}
		}
	}
}

func (s *Session) readLoop() {
	defer close(s.frames)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr = err
			return
		}
		var frame Frame
		if json.Unmarshal(data, &frame) != nil || frame.Event == "" {
			continue
		}
		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

func (s *Session) send(event string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(Frame{Event: event})
}

// Run triggers the build and follows it to a terminal event. The session is
// closed when Run returns, whatever the outcome.
func (s *Session) Run(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("cloudbuild: session not connected")
	}
	defer s.Close()

	if err := s.send(EventBuild); err != nil {
		return &BuildFailedError{Message: "could not start build", Err: err}
	}

	for {
		select {
		case frame, ok := <-s.frames:
			if !ok {
				return &BuildFailedError{Message: "connection lost before the build finished", Err: s.readErr}
			}
			switch frame.Event {
			case EventBuild, EventBuilding, EventBuilded:
				s.emit(Event{Name: frame.Event, Message: messageOf(frame.Data)})
			case EventPublished:
				s.emit(Event{Name: frame.Event, Message: messageOf(frame.Data)})
				return nil
			case EventErrorBuild:
				return &BuildFailedError{Message: messageOf(frame.Data)}
			case s.id:
				var rec statusRecord
				if err := json.Unmarshal(frame.Data, &rec); err != nil {
					s.emit(Event{Name: EventStatus, Message: messageOf(frame.Data)})
					continue
				}
				s.emit(Event{Name: EventStatus, Message: rec.Message, TaskID: rec.TaskID, Time: parseTimestamp(rec.Timestamp)})
			default:
				debug.Logf("cloudbuild: ignoring unknown event %q\n", frame.Event)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) emit(ev Event) {
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(ev)
	}
}

// Close releases the connection. Safe to call multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.writeMu.Lock()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			s.writeMu.Unlock()
			err = s.conn.Close()
		}
	})
	return err
}
