package gateway

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/corewave-ai/voicegateway/frame"
	"github.com/corewave-ai/voicegateway/identity"
	"github.com/corewave-ai/voicegateway/o11y"
	"github.com/corewave-ai/voicegateway/schema"
)

// SupportedFormats and SampleRates are advertised in the ready event (spec
// §4.4).
var (
	SupportedFormats = []string{"opus", "pcm"}
	SampleRates      = []int{48000, 44100, 16000}
)

// TurnHandler is the orchestrator-facing capability set the gateway drives.
// It is implemented by the orchestrator composition root; the gateway only
// depends on this narrow interface to avoid importing orchestrator
// directly.
type TurnHandler interface {
	// StartSession is called once per successful upgrade, before any frames
	// are read. out is the session's outbound fan-out channel.
	StartSession(ctx context.Context, sessionID string, auth schema.Auth, out chan<- any) error
	// HandleAudioFrame delivers one decoded inbound audio frame.
	HandleAudioFrame(ctx context.Context, sessionID string, f *schema.AudioFrame) error
	// HandleControl delivers one parsed JSON control message (any of the
	// Client* types ParseClientMessage returns).
	HandleControl(ctx context.Context, sessionID string, msg any) error
	// EndSession is called once the connection is torn down.
	EndSession(ctx context.Context, sessionID string) error
}

// Config configures allowed websocket origins (spec §4.6 Origin guard).
type Config struct {
	Environment    string
	AllowedOrigins []string
}

func (c Config) allowOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if c.Environment == "development" && (u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1") {
		return true
	}
	if u.Scheme != "https" {
		return c.Environment == "development"
	}
	for _, allowed := range c.AllowedOrigins {
		if strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// Server is the voice websocket gateway (C4): chi router, gorilla/websocket
// upgrade, per-session heartbeat and a non-blocking outbound queue that drops
// events when saturated. Inbound audio frames are handed to the TurnHandler
// as they arrive; the gateway does not buffer them in a frame.Ring.
type Server struct {
	cfg      Config
	verifier *identity.Verifier
	handler  TurnHandler
	sessions *Registry
	upgrader websocket.Upgrader
}

// New creates a Server.
func New(cfg Config, verifier *identity.Verifier, handler TurnHandler) *Server {
	s := &Server{
		cfg:      cfg,
		verifier: verifier,
		handler:  handler,
		sessions: NewRegistry(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return cfg.allowOrigin(strings.TrimSpace(r.Header.Get("Origin")))
		},
	}
	return s
}

// Router builds the chi http.Handler exposing the voice websocket endpoint
// alongside health/readiness.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/v1/voice/ws", s.handleWS)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready","sessions":` + strconv.Itoa(s.sessions.Len()) + `}`))
}

// CloseAll tears down every live session, used on graceful shutdown.
func (s *Server) CloseAll(reason string) {
	s.sessions.CloseAll()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := o11y.FromContext(ctx)

	raw := identity.ExtractToken(r)
	auth, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		http.Error(w, string(schema.Code(err)), http.StatusUnauthorized)
		return
	}
	auth.IP = clientIP(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		sessionID = newSessionID()
	}

	now := time.Now()
	sess := s.sessions.Attach(sessionID, auth, now)
	defer s.sessions.Detach(sessionID)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.handler.StartSession(connCtx, sessionID, auth, sess.Out); err != nil {
		log.Error(connCtx, "gateway: start session failed", "session_id", sessionID, "error", err)
		return
	}
	defer func() { _ = s.handler.EndSession(context.Background(), sessionID) }()

	sess.Transition(schema.SessionListening, now)
	sess.Send(ReadyEvent{
		Type:             TypeReady,
		SessionID:        sessionID,
		SupportedFormats: SupportedFormats,
		MaxFrameSize:     schema.MaxFrameBytes,
		SampleRates:      SampleRates,
	})

	writerDone := make(chan struct{})
	go s.writeLoop(connCtx, conn, sess, cancel, writerDone)

	go s.heartbeatLoop(connCtx, conn, sess, cancel)

	s.readLoop(connCtx, conn, sess, cancel)

	cancel()
	<-writerDone
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sess *Session, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sess.Out:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return
			}
		}
	}
}

func (s *Server) heartbeatLoop(ctx context.Context, conn *websocket.Conn, sess *Session, cancel context.CancelFunc) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	conn.SetPongHandler(func(string) error {
		sess.Touch(time.Now())
		_ = conn.SetReadDeadline(time.Now().Add(pongGrace))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cancel()
				return
			}
			if sess.RecordMissedPong() {
				sess.Send(ErrorEvent{Type: TypeErrorEvent, Code: string(schema.ErrPingTimeout), Message: "heartbeat timeout"})
				cancel()
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *Session, cancel context.CancelFunc) {
	conn.SetReadLimit(int64(schema.MaxFrameBytes) * 2)
	_ = conn.SetReadDeadline(time.Now().Add(pongGrace))

	var seq uint64
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sess.Touch(time.Now())
		_ = conn.SetReadDeadline(time.Now().Add(pongGrace))

		if msgType == websocket.BinaryMessage || (msgType == websocket.TextMessage && frame.IsAudioFrame(data)) {
			seq++
			f := &schema.AudioFrame{
				Payload:     data,
				Format:      schema.FormatOpus,
				SampleRate:  SampleRates[0],
				Channels:    1,
				FrameMs:     schema.DefaultFrameMs,
				Seq:         seq,
				MonotonicTs: time.Now().UnixNano(),
			}
			if !f.Valid() {
				sess.Send(ErrorEvent{Type: TypeErrorEvent, Code: string(schema.ErrValidation), Message: "invalid audio frame"})
				continue
			}
			if err := s.handler.HandleAudioFrame(ctx, sess.State.SessionID, f); err != nil {
				sess.Send(ErrorEvent{Type: TypeErrorEvent, Code: errCode(err), Message: err.Error()})
			}
			continue
		}

		parsed, perr := ParseClientMessage(data)
		if perr != nil {
			sess.Send(ErrorEvent{Type: TypeErrorEvent, Code: string(schema.ErrValidation), Message: perr.Error()})
			continue
		}
		if err := s.handler.HandleControl(ctx, sess.State.SessionID, parsed); err != nil {
			sess.Send(ErrorEvent{Type: TypeErrorEvent, Code: errCode(err), Message: err.Error()})
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func newSessionID() string {
	return uuid.NewString()
}

// errCode extracts err's schema.ErrorCode for the wire error event, falling
// back to a generic dispatch-failure code when err isn't a *schema.Error.
func errCode(err error) string {
	if code := schema.Code(err); code != "" {
		return string(code)
	}
	return string(schema.ErrActionFailed)
}

// clientIP extracts the connecting client's address for the ip rate-limit
// scope (spec §4.6), preferring a load-balancer-set X-Forwarded-For over
// the raw RemoteAddr.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
