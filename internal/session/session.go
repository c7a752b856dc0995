package session

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/jobboard-chat/internal/domain"
	"github.com/fathima-sithara/jobboard-chat/internal/hub"
	"github.com/fathima-sithara/jobboard-chat/internal/metrics"
	"github.com/fathima-sithara/jobboard-chat/internal/protocol"
	"github.com/fathima-sithara/jobboard-chat/internal/service"
)

const (
	CloseUnauthorized = 4001
	CloseForbidden    = 4003
)

// Conn is the part of *websocket.Conn a session drives.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
}

type Chat interface {
	Verify(ctx context.Context, p domain.Principal, convID string) (domain.Conversation, domain.Identity, error)
	SendMessage(ctx context.Context, id domain.Identity, in service.SendInput) (protocol.MessagePayload, error)
	MarkRead(ctx context.Context, id domain.Identity, messageID string) (bool, error)
	SetTyping(ctx context.Context, id domain.Identity, isTyping bool) error
}

type Registry interface {
	Register(convID string, c hub.Conn)
	Deregister(convID string, c hub.Conn)
}

type Presence interface {
	Touch(ctx context.Context, userID string) error
	Leave(ctx context.Context, userID string) error
}

type Config struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
	RateLimit      float64
	RateBurst      int
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 << 10
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 20
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 40
	}
	return c
}

type Deps struct {
	Chat     Chat
	Registry Registry
	Presence Presence
	Logger   *zap.SugaredLogger
}

// Session serves one websocket connection to one conversation. A reader
// runs on the caller's goroutine and a writer owns every write to the socket.
type Session struct {
	conn      Conn
	principal domain.Principal
	convID    string
	id        domain.Identity

	chat     Chat
	registry Registry
	presence Presence
	logger   *zap.SugaredLogger
	cfg      Config
	limiter  *rate.Limiter

	state     atomic.Int32
	send      chan []byte
	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
}

func New(conn Conn, p domain.Principal, convID string, d Deps, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		conn:      conn,
		principal: p,
		convID:    convID,
		chat:      d.Chat,
		registry:  d.Registry,
		presence:  d.Presence,
		logger:    d.Logger.With("conversation_id", convID, "user_id", p.UserID),
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		send:      make(chan []byte, cfg.SendBuffer),
		done:      make(chan struct{}),
	}
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) UserID() string { return s.principal.UserID }

// Deliver queues frame for the writer. It fails once the session is closing
// or when the buffer is full, which tells the registry to drop this session.
func (s *Session) Deliver(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Run verifies the caller and serves the connection until it ends. Cleanup
// runs on every exit path.
func (s *Session) Run(ctx context.Context) {
	s.setState(Verifying)
	if s.principal.Anonymous() {
		s.reject(CloseUnauthorized, "authentication required")
		return
	}
	_, id, err := s.chat.Verify(ctx, s.principal, s.convID)
	switch {
	case errors.Is(err, domain.ErrNotParticipant), errors.Is(err, domain.ErrNotFound):
		s.reject(CloseForbidden, "not a participant of this conversation")
		return
	case errors.Is(err, domain.ErrUnauthorized):
		s.reject(CloseUnauthorized, "authentication required")
		return
	case err != nil:
		s.logger.Errorw("verify session", "error", err)
		s.reject(websocket.CloseInternalServerErr, "internal error")
		return
	}
	s.id = id

	s.setState(Active)
	metrics.Connections.Inc()
	s.registry.Register(s.convID, s)
	if err := s.presence.Touch(ctx, s.id.UserID); err != nil {
		s.logger.Warnw("mark online", "error", err)
	}

	writerDone := make(chan struct{})
	go s.writePump(writerDone)
	defer s.cleanup(writerDone)
	go s.closeOnShutdown(ctx)

	if b, err := protocol.Connected(); err == nil {
		s.Deliver(b)
	}
	s.logger.Infow("websocket session active", "side", s.id.Side)
	s.readPump(ctx)
}

func (s *Session) reject(code int, reason string) {
	s.setState(Closing)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteWait)); err != nil {
		s.logger.Debugw("write close frame", "code", code, "error", err)
	}
	s.closeConn()
	s.setState(Closed)
	metrics.SessionsClosed.WithLabelValues(strconv.Itoa(code)).Inc()
	s.logger.Infow("websocket session rejected", "code", code, "reason", reason)
}

func (s *Session) cleanup(writerDone <-chan struct{}) {
	s.setState(Closing)
	s.registry.Deregister(s.convID, s)
	if err := s.presence.Leave(context.Background(), s.id.UserID); err != nil {
		s.logger.Warnw("mark offline", "error", err)
	}
	s.stop()
	<-writerDone
	s.closeConn()
	s.setState(Closed)
	metrics.Connections.Dec()
	metrics.SessionsClosed.WithLabelValues(strconv.Itoa(websocket.CloseNormalClosure)).Inc()
	s.logger.Infow("websocket session closed")
}

// closeOnShutdown sends the close frame when the server context ends and
// gives the peer one write window to answer before the reader gives up.
func (s *Session) closeOnShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.stop()
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.WriteWait))
	case <-s.done:
	}
}

func (s *Session) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Session) closeConn() {
	s.closeOnce.Do(func() { _ = s.conn.Close() })
}

func (s *Session) extendDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
}

func (s *Session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	s.extendDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendDeadline()
		if err := s.presence.Touch(ctx, s.id.UserID); err != nil {
			s.logger.Debugw("refresh presence on pong", "error", err)
		}
		return nil
	})

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugw("websocket read ended", "error", err)
			}
			return
		}
		s.extendDeadline()
		if mt != websocket.TextMessage {
			continue
		}
		if !s.limiter.Allow() {
			metrics.FramesIn.WithLabelValues("unknown", "rate_limited").Inc()
			continue
		}
		s.handle(ctx, data)
	}
}

func (s *Session) handle(ctx context.Context, data []byte) {
	in, err := protocol.Decode(data)
	if err != nil {
		metrics.FramesIn.WithLabelValues("unknown", "invalid").Inc()
		s.logger.Debugw("drop frame", "error", err)
		return
	}
	if err := s.presence.Touch(ctx, s.id.UserID); err != nil {
		s.logger.Debugw("refresh presence", "error", err)
	}

	outcome := "ok"
	switch in.Type {
	case protocol.TypePing:
		if b, err := protocol.Pong(time.Now()); err == nil {
			s.Deliver(b)
		}
	case protocol.TypeMessage:
		if strings.TrimSpace(in.Content) == "" {
			outcome = "invalid"
			break
		}
		if _, err := s.chat.SendMessage(ctx, s.id, service.SendInput{
			Content: in.Content,
			Type:    domain.MessageType(in.MessageType),
		}); err != nil {
			outcome = "error"
			s.logger.Warnw("send message", "error", err)
		}
	case protocol.TypeTyping:
		if err := s.chat.SetTyping(ctx, s.id, in.IsTyping); err != nil {
			outcome = "error"
			s.logger.Warnw("typing indicator", "error", err)
		}
	case protocol.TypeReadReceipt:
		if _, err := s.chat.MarkRead(ctx, s.id, in.MessageID); err != nil {
			outcome = "error"
			s.logger.Warnw("read receipt", "message_id", in.MessageID, "error", err)
		}
	}
	metrics.FramesIn.WithLabelValues(in.Type, outcome).Inc()
}

func (s *Session) writePump(done chan<- struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debugw("websocket write", "error", err)
				s.stop()
				s.closeConn()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteWait)); err != nil {
				s.logger.Debugw("websocket ping", "error", err)
				s.stop()
				s.closeConn()
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(s.cfg.WriteWait))
			return
		}
	}
}
