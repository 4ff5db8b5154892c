package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/richinsley/viewcomfy/auth"
	"github.com/richinsley/viewcomfy/metrics"
	"github.com/richinsley/viewcomfy/results"
)

var (
	// ErrUnauthenticated is returned by Connect when the credential supplier has no session.
	ErrUnauthenticated = errors.New("session: not signed in")
	// ErrNoToken is returned by Connect when the supplier returned an empty token.
	ErrNoToken = errors.New("session: credential supplier returned no token")

	errServerDisconnect = errors.New("server closed the session")
)

// Disconnect reasons reported to OnDisconnected handlers.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonTransportClose   = "transport close"
)

type Options struct {
	// URL of the result-delivery endpoint. Empty disables the session entirely.
	URL          string
	Credentials  auth.Supplier
	TokenOptions auth.TokenOptions

	// Exponential backoff configuration
	BaseDelay time.Duration // The initial delay, e.g., 1 second
	MaxDelay  time.Duration // The maximum delay, e.g., 30 seconds
	Jitter    float64       // Randomization factor in [0, 1]

	TokenTimeout     time.Duration // bound on each token fetch
	HandshakeTimeout time.Duration // bound on dial + server acceptance
	Dialer           *websocket.Dialer
	Logger           *zerolog.Logger
}

// Session owns the single realtime connection to the result-delivery server. It
// authenticates every dial with a freshly fetched token, retries lost connections
// forever with capped exponential backoff, and dispatches typed events serially in
// arrival order.
type Session struct {
	opts     Options
	log      zerolog.Logger
	handlers *registry
	random   func() float64

	mu      sync.Mutex
	conn    *websocket.Conn
	token   string
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	epoch   uint64 // bumped by Disconnect; stale goroutines check it before writing state

	connected atomic.Bool
}

func New(opts Options) *Session {
	if opts.BaseDelay == 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay == 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.TokenTimeout == 0 {
		opts.TokenTimeout = 10 * time.Second
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 20 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Session{
		opts:     opts,
		log:      logger.With().Str("component", "session").Logger(),
		handlers: newRegistry(),
		random:   rand.Float64,
	}
}

// Enabled reports whether an endpoint is configured.
func (s *Session) Enabled() bool {
	return s != nil && s.opts.URL != ""
}

// SignedIn reports whether the credential supplier currently has a session.
func (s *Session) SignedIn() bool {
	return s.opts.Credentials != nil && s.opts.Credentials.SignedIn()
}

func (s *Session) IsConnected() bool {
	return s.Enabled() && s.connected.Load()
}

// Done is closed when the current connection manager exits. It is nil if Connect has
// never started one.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Connect fetches a token and starts the connection manager. It is a no-op when the
// session is disabled or already running. Without a signed-in credential supplier it
// returns ErrUnauthenticated and does not retry. ctx bounds the whole session.
func (s *Session) Connect(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	epoch := s.epoch
	s.mu.Unlock()

	if !s.SignedIn() {
		return ErrUnauthenticated
	}

	tokenCtx, cancel := context.WithTimeout(ctx, s.opts.TokenTimeout)
	token, err := s.fetchToken(tokenCtx)
	cancel()
	if err != nil {
		s.log.Error().Err(err).Msg("error getting token for socket connection")
		return fmt.Errorf("session: get token: %w", err)
	}
	if token == "" {
		return ErrNoToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.epoch != epoch {
		// another Connect won, or Disconnect was called while the token was in flight
		return nil
	}
	s.token = token
	runCtx, runCancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = runCancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done, epoch)
	return nil
}

// Disconnect tears down the connection immediately and stops reconnecting. It is safe
// to call when already disconnected.
func (s *Session) Disconnect() {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	s.epoch++
	cancel, conn := s.cancel, s.conn
	s.running = false
	s.cancel = nil
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	if s.connected.Swap(false) {
		metrics.SetConnected(false)
	}
}

func (s *Session) run(ctx context.Context, done chan struct{}, epoch uint64) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		if s.epoch == epoch {
			s.running = false
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	retries := 0
	for {
		accepted, err := s.serve(ctx, epoch)
		if ctx.Err() != nil {
			return
		}
		if accepted {
			retries = 0
		}
		s.log.Warn().Err(err).Bool("was_connected", accepted).Msg("connection lost")

		if !s.SignedIn() {
			s.log.Info().Msg("signed out, not reconnecting")
			return
		}

		delay := reconnectDelay(s.opts.BaseDelay, s.opts.MaxDelay, s.opts.Jitter, retries, s.random())
		retries++
		s.log.Debug().Int("attempt", retries).Dur("delay", delay).Msg("scheduling reconnect")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.reconnectAttempt(ctx, epoch, retries)
		if ctx.Err() != nil {
			return
		}
	}
}

// reconnectAttempt refreshes the handshake token before the next dial. A failed
// fetch is logged and the previous token is reused; the attempt will fail and retry.
func (s *Session) reconnectAttempt(ctx context.Context, epoch uint64, attempt int) {
	metrics.IncReconnectAttempt()
	s.handlers.emit(&s.log, eventReconnectAttempt, attempt)

	tokenCtx, cancel := context.WithTimeout(ctx, s.opts.TokenTimeout)
	defer cancel()
	token, err := s.fetchToken(tokenCtx)
	if err == nil && token == "" {
		err = ErrNoToken
	}
	if err != nil {
		metrics.IncTokenRefreshFailure()
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("failed to refresh token on reconnect attempt")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch && ctx.Err() == nil {
		s.token = token
	}
}

func (s *Session) fetchToken(ctx context.Context) (token string, err error) {
	if s.opts.Credentials == nil {
		return "", ErrUnauthenticated
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("credential supplier panicked: %v", p)
		}
	}()
	return s.opts.Credentials.GetToken(ctx, s.opts.TokenOptions)
}

func (s *Session) currentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// serve dials, performs the handshake and runs the read loop until the connection is
// lost. accepted reports whether the server accepted the handshake.
func (s *Session) serve(ctx context.Context, epoch uint64) (accepted bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	conn, _, err := s.opts.Dialer.DialContext(dialCtx, s.opts.URL, nil)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			s.transportError(fmt.Errorf("dial: %w", err))
		}
		return false, err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		conn.Close()
		return false, context.Canceled
	}
	s.conn = conn
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close()
		if accepted && ctx.Err() != nil {
			s.markDown(epoch)
			s.handlers.emit(&s.log, eventDisconnected, DisconnectData{Reason: ReasonClientDisconnect})
		}
	}()

	conn.SetWriteDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	if err := conn.WriteJSON(handshakeFrame{Event: EventConnect, Data: Auth{Authorization: s.currentToken()}}); err != nil {
		s.transportError(fmt.Errorf("handshake: %w", err))
		return false, err
	}
	conn.SetReadDeadline(time.Now().Add(s.opts.HandshakeTimeout))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return accepted, ctx.Err()
			}
			if !accepted {
				s.transportError(fmt.Errorf("handshake: %w", err))
				return false, err
			}
			s.lost(epoch, DisconnectData{Reason: ReasonTransportClose, Details: err.Error()})
			return true, err
		}

		frame := &Frame{}
		if err := json.Unmarshal(message, frame); err != nil {
			metrics.IncMalformedFrame()
			s.log.Error().Err(err).Int("bytes", len(message)).Msg("dropping malformed frame")
			continue
		}

		switch frame.Event {
		case EventConnect:
			if accepted {
				continue
			}
			if !s.markUp(epoch) {
				return false, context.Canceled
			}
			accepted = true
			conn.SetReadDeadline(time.Time{})
			metrics.SetConnected(true)
			s.log.Info().Msg("socket connected")
			s.handlers.emit(&s.log, eventConnected, nil)
		case EventConnectError:
			err := fmt.Errorf("connect_error: %s", rawString(frame.Data))
			s.transportError(err)
			if accepted {
				s.lost(epoch, DisconnectData{Reason: ReasonTransportClose, Details: err.Error()})
			}
			return accepted, err
		case EventDisconnect:
			d := frame.Data.(*DisconnectData)
			if accepted {
				s.lost(epoch, *d)
			}
			return accepted, fmt.Errorf("%w: %s", errServerDisconnect, d.Reason)
		case EventError:
			s.transportError(fmt.Errorf("server error: %s", rawString(frame.Data)))
		case EventResult:
			s.handlers.emit(&s.log, EventResult, frame.Data.(*results.ResultRecord))
		case EventErrorMessage:
			s.handlers.emit(&s.log, EventErrorMessage, frame.Data.(*results.ErrorRecord))
		default:
			s.log.Warn().Str("event", frame.Event).Msg("unhandled event")
		}
	}
}

func (s *Session) lost(epoch uint64, d DisconnectData) {
	s.markDown(epoch)
	s.log.Info().Str("reason", d.Reason).Interface("details", d.Details).Msg("socket disconnected")
	s.handlers.emit(&s.log, eventDisconnected, d)
}

// markUp sets the connected flag unless Disconnect has been called since epoch.
func (s *Session) markUp(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	s.connected.Store(true)
	return true
}

// markDown clears the connected flag unless a newer Connect owns it.
func (s *Session) markDown(epoch uint64) {
	s.mu.Lock()
	current := s.epoch == epoch
	s.mu.Unlock()
	if current && s.connected.Swap(false) {
		metrics.SetConnected(false)
	}
}

func (s *Session) transportError(err error) {
	metrics.IncTransportError()
	s.log.Warn().Err(err).Msg("socket connection error")
	s.handlers.emit(&s.log, eventTransportError, err)
}

func rawString(v interface{}) string {
	raw, ok := v.(json.RawMessage)
	if !ok || len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return string(raw)
}
