package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fathima-sithara/jobboard-chat/internal/auth"
	"github.com/fathima-sithara/jobboard-chat/internal/domain"
	"github.com/fathima-sithara/jobboard-chat/internal/presence"
	"github.com/fathima-sithara/jobboard-chat/internal/service"
	"github.com/fathima-sithara/jobboard-chat/internal/session"
)

// StatusReader serves the user status endpoints.
type StatusReader interface {
	Status(ctx context.Context, userID string) (presence.Status, error)
	Statuses(ctx context.Context, userIDs []string) (map[string]presence.Status, error)
}

type Options struct {
	AppName      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Chat         *service.ChatService
	Status       StatusReader
	Sessions     session.Deps
	Session      session.Config
	Verifier     *auth.Verifier
	ServiceToken string
	Logger       *zap.SugaredLogger
	// BaseContext is handed to websocket sessions; cancel it on shutdown.
	BaseContext context.Context
}

type Server struct {
	chat       *service.ChatService
	status     StatusReader
	sessions   session.Deps
	sessionCfg session.Config
	logger     *zap.SugaredLogger
	ctx        context.Context
}

func NewServer(o Options) *fiber.App {
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	app := fiber.New(fiber.Config{
		AppName:               o.AppName,
		ReadTimeout:           o.ReadTimeout,
		WriteTimeout:          o.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(o.Logger),
	})
	s := &Server{
		chat:       o.Chat,
		status:     o.Status,
		sessions:   o.Sessions,
		sessionCfg: o.Session,
		logger:     o.Logger,
		ctx:        o.BaseContext,
	}

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(requestMetrics())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/ws/chat/:conversation_id", auth.Optional(o.Verifier), s.upgrade, websocket.New(s.serveWS))

	v1 := app.Group("/api/v1")
	v1.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })
	v1.Post("/internal/applications", auth.ServiceToken(o.ServiceToken), s.openForApplication)

	v1.Use(auth.Required(o.Verifier))

	conv := v1.Group("/conversations")
	conv.Get("/", s.listConversations)
	conv.Get("/unread_count", s.unreadCount)
	conv.Post("/", s.createConversation)
	conv.Get("/:id", s.getConversation)
	conv.Patch("/:id", s.updateConversation)
	conv.Post("/:id/archive", s.archive)
	conv.Post("/:id/restore", s.restore)
	conv.Post("/:id/mark_read", s.markAllRead)
	conv.Get("/:id/messages", s.listMessages)
	conv.Post("/:id/messages", s.sendMessage)
	conv.Get("/:id/messages/:message_id", s.getMessage)
	conv.Post("/:id/typing", s.setTyping)
	conv.Get("/:id/typing", s.getTyping)

	v1.Get("/users/:id/status", s.userStatus)
	v1.Post("/users/status", s.usersStatus)

	return app
}

func (s *Server) upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (s *Server) serveWS(conn *websocket.Conn) {
	p, _ := conn.Locals(auth.PrincipalKey).(domain.Principal)
	session.New(conn, p, conn.Params("conversation_id"), s.sessions, s.sessionCfg).Run(s.ctx)
}
