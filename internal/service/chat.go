package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fathima-sithara/jobboard-chat/internal/domain"
	"github.com/fathima-sithara/jobboard-chat/internal/events"
	"github.com/fathima-sithara/jobboard-chat/internal/metrics"
	"github.com/fathima-sithara/jobboard-chat/internal/protocol"
	"github.com/fathima-sithara/jobboard-chat/internal/repository"
	"github.com/fathima-sithara/jobboard-chat/internal/storage"
)

const DefaultTypingStaleAfter = 10 * time.Second

// Broadcaster fans an event out to every connection on a conversation.
type Broadcaster interface {
	Publish(ctx context.Context, convID string, ev protocol.Event)
}

// Presence answers "online now" for message serialization.
type Presence interface {
	Online(ctx context.Context, userID string) bool
	OnlineMany(ctx context.Context, userIDs []string) map[string]bool
}

type Users interface {
	GetUsers(ctx context.Context, userIDs []string) (map[string]domain.User, error)
}

type Config struct {
	MaxAttachmentSize int64
	TypingStaleAfter  time.Duration
}

type Deps struct {
	Repo     repository.Repository
	Users    Users
	Presence Presence
	Out      Broadcaster
	URLs     storage.Resolver
	Events   events.Publisher
	Logger   *zap.SugaredLogger
}

// ChatService holds the conversation operations shared by the websocket
// session and the REST handlers.
type ChatService struct {
	repo     repository.Repository
	users    Users
	presence Presence
	out      Broadcaster
	urls     storage.Resolver
	events   events.Publisher
	tracer   trace.Tracer
	logger   *zap.SugaredLogger
	cfg      Config
	now      func() time.Time
}

func NewChatService(d Deps, cfg Config) *ChatService {
	if cfg.MaxAttachmentSize <= 0 {
		cfg.MaxAttachmentSize = domain.DefaultMaxAttachmentSize
	}
	if cfg.TypingStaleAfter <= 0 {
		cfg.TypingStaleAfter = DefaultTypingStaleAfter
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.URLs == nil {
		d.URLs = storage.StaticResolver{}
	}
	return &ChatService{
		repo:     d.Repo,
		users:    d.Users,
		presence: d.Presence,
		out:      d.Out,
		urls:     d.URLs,
		events:   d.Events,
		tracer:   otel.Tracer("github.com/fathima-sithara/jobboard-chat/internal/service"),
		logger:   d.Logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *ChatService) start(ctx context.Context, name string, id domain.Identity) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("chat.conversation_id", id.ConversationID),
		attribute.String("chat.user_id", id.UserID),
	))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Verify loads the conversation once and places the principal on one side of it.
func (s *ChatService) Verify(ctx context.Context, p domain.Principal, convID string) (domain.Conversation, domain.Identity, error) {
	if p.Anonymous() {
		return domain.Conversation{}, domain.Identity{}, domain.ErrUnauthorized
	}
	c, err := s.repo.GetConversation(ctx, convID)
	if err != nil {
		return domain.Conversation{}, domain.Identity{}, err
	}
	id, err := domain.ResolveIdentity(c, p.UserID)
	if err != nil {
		return domain.Conversation{}, domain.Identity{}, err
	}
	return c, id, nil
}

type SendInput struct {
	Content     string
	Type        domain.MessageType
	Attachments []domain.Attachment
}

// SendMessage persists a message from id to its counterpart and broadcasts
// it. The returned payload is rendered for the sender.
func (s *ChatService) SendMessage(ctx context.Context, id domain.Identity, in SendInput) (_ protocol.MessagePayload, err error) {
	ctx, span := s.start(ctx, "chat.send_message", id)
	defer func() { finish(span, err) }()

	if in.Type == "" {
		in.Type = domain.MessageText
	}
	if !in.Type.Valid() {
		return protocol.MessagePayload{}, domain.ErrInvalidMessageType
	}
	for _, a := range in.Attachments {
		if err := domain.ValidateAttachment(a, s.cfg.MaxAttachmentSize); err != nil {
			return protocol.MessagePayload{}, err
		}
	}

	m, err := s.repo.AppendMessage(ctx, domain.NewMessage{
		ConversationID: id.ConversationID,
		SenderID:       id.UserID,
		ReceiverID:     id.Counterpart(),
		Content:        in.Content,
		Type:           in.Type,
		Attachments:    in.Attachments,
	})
	if err != nil {
		return protocol.MessagePayload{}, fmt.Errorf("append message: %w", err)
	}
	metrics.MessagesPersisted.WithLabelValues(string(m.Type)).Inc()
	span.SetAttributes(attribute.String("chat.message_id", m.ID))

	p := s.serialize(ctx, []domain.Message{m}, id.UserID)[0]
	s.out.Publish(ctx, id.ConversationID, protocol.MessageEvent(p))
	s.events.Publish(ctx, events.Event{
		Type:           events.MessageCreated,
		ConversationID: id.ConversationID,
		ActorID:        id.UserID,
		MessageID:      m.ID,
		At:             m.CreatedAt,
	})
	return p.For(id.UserID), nil
}

// MarkRead marks one message read by id. A receipt is broadcast only when
// the message actually transitioned.
func (s *ChatService) MarkRead(ctx context.Context, id domain.Identity, messageID string) (_ bool, err error) {
	ctx, span := s.start(ctx, "chat.mark_read", id)
	defer func() { finish(span, err) }()

	m, changed, err := s.repo.MarkRead(ctx, id.ConversationID, messageID, id.UserID)
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	if !changed {
		return false, nil
	}
	at := s.now()
	if m.ReadAt != nil {
		at = *m.ReadAt
	}
	s.out.Publish(ctx, id.ConversationID, protocol.ReadReceiptEvent(messageID, id.UserID, at))
	s.events.Publish(ctx, events.Event{
		Type:           events.MessageRead,
		ConversationID: id.ConversationID,
		ActorID:        id.UserID,
		MessageID:      messageID,
		At:             at,
	})
	return true, nil
}

func (s *ChatService) MarkAllRead(ctx context.Context, id domain.Identity) (_ int, err error) {
	ctx, span := s.start(ctx, "chat.mark_all_read", id)
	defer func() { finish(span, err) }()

	n, err := s.repo.MarkAllRead(ctx, id.ConversationID, id.UserID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	if n > 0 {
		s.events.Publish(ctx, events.Event{
			Type:           events.ConversationReadAll,
			ConversationID: id.ConversationID,
			ActorID:        id.UserID,
			Count:          n,
			At:             s.now(),
		})
	}
	return n, nil
}

// SetTyping records the indicator and broadcasts it to the whole group,
// the sender's other connections included.
func (s *ChatService) SetTyping(ctx context.Context, id domain.Identity, isTyping bool) error {
	err := s.repo.UpsertTyping(ctx, domain.TypingIndicator{
		ConversationID: id.ConversationID,
		UserID:         id.UserID,
		IsTyping:       isTyping,
		LastTypingAt:   s.now(),
	})
	if err != nil {
		return fmt.Errorf("upsert typing: %w", err)
	}
	s.out.Publish(ctx, id.ConversationID, protocol.TypingEvent(id.ConversationID, id.UserID, s.displayName(ctx, id.UserID), isTyping))
	return nil
}

// ActiveTyping lists the fresh indicators of the conversation, the caller's own excluded.
func (s *ChatService) ActiveTyping(ctx context.Context, id domain.Identity) ([]protocol.TypingFrame, error) {
	ts, err := s.repo.ActiveTyping(ctx, id.ConversationID, s.cfg.TypingStaleAfter)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.TypingFrame, 0, len(ts))
	for _, t := range ts {
		if t.UserID == id.UserID || !t.IsTyping {
			continue
		}
		out = append(out, protocol.TypingFrame{
			Type:           protocol.TypeTyping,
			ConversationID: t.ConversationID,
			UserID:         t.UserID,
			UserName:       s.displayName(ctx, t.UserID),
			IsTyping:       true,
		})
	}
	return out, nil
}

// History returns a page of messages older than before, oldest first,
// each rendered for the caller.
func (s *ChatService) History(ctx context.Context, id domain.Identity, before time.Time, limit int) (_ []protocol.MessagePayload, err error) {
	ctx, span := s.start(ctx, "chat.history", id)
	defer func() { finish(span, err) }()

	msgs, err := s.repo.ListMessages(ctx, id.ConversationID, before, limit)
	if err != nil {
		return nil, err
	}
	out := s.serialize(ctx, msgs, "")
	for i := range out {
		out[i] = out[i].For(id.UserID)
	}
	return out, nil
}

func (s *ChatService) GetMessage(ctx context.Context, id domain.Identity, messageID string) (protocol.MessagePayload, error) {
	m, err := s.repo.GetMessage(ctx, id.ConversationID, messageID)
	if err != nil {
		return protocol.MessagePayload{}, err
	}
	return s.serialize(ctx, []domain.Message{m}, "")[0].For(id.UserID), nil
}

func (s *ChatService) displayName(ctx context.Context, userID string) string {
	users, err := s.users.GetUsers(ctx, []string{userID})
	if err != nil {
		s.logger.Debugw("user lookup failed", "user_id", userID, "error", err)
		return userID
	}
	if u, ok := users[userID]; ok && u.FullName() != "" {
		return u.FullName()
	}
	return userID
}
