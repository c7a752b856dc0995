package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fathima-sithara/jobboard-chat/internal/domain"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Repository is the durable store for conversations, messages and typing
// indicators. Implementations own the unread counters: they
// only change through AppendMessage, MarkRead and MarkAllRead, and always
// atomically with the message rows they describe.
type Repository interface {
	FindOrCreate(ctx context.Context, spec domain.ConversationSpec) (domain.Conversation, bool, error)
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	ListConversations(ctx context.Context, userID string, archived bool) ([]domain.Conversation, error)
	LinkApplication(ctx context.Context, conversationID, applicationID, jobID string) error
	SetFlags(ctx context.Context, conversationID string, flags domain.ConversationFlags) (domain.Conversation, error)

	AppendMessage(ctx context.Context, m domain.NewMessage) (domain.Message, error)
	GetMessage(ctx context.Context, conversationID, messageID string) (domain.Message, error)
	ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]domain.Message, error)
	MarkRead(ctx context.Context, conversationID, messageID, readerID string) (domain.Message, bool, error)
	MarkAllRead(ctx context.Context, conversationID, readerID string) (int, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
	TotalUnread(ctx context.Context, userID string) (int, error)

	UpsertTyping(ctx context.Context, t domain.TypingIndicator) error
	ActiveTyping(ctx context.Context, conversationID string, staleAfter time.Duration) ([]domain.TypingIndicator, error)
}

// UserDirectory is the slice of the user store the chat core needs.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (domain.User, error)
	GetUsers(ctx context.Context, userIDs []string) (map[string]domain.User, error)
	UpsertUser(ctx context.Context, u domain.User) error
	TouchActivity(ctx context.Context, userID string, at time.Time) error
}

type Store interface {
	Repository
	UserDirectory
	Close(ctx context.Context) error
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func checkSpec(spec domain.ConversationSpec) error {
	if spec.RecruiterID == "" || spec.JobSeekerID == "" {
		return domain.ErrNotParticipant
	}
	if spec.RecruiterID == spec.JobSeekerID {
		return domain.ErrSameParticipant
	}
	return nil
}

// checkParticipants verifies sender and receiver are the two sides of c.
func checkParticipants(c domain.Conversation, m domain.NewMessage) error {
	if !c.HasParticipant(m.SenderID) || !c.HasParticipant(m.ReceiverID) {
		return domain.ErrNotParticipant
	}
	return nil
}

// stampAttachments fills ids and upload times the caller left empty.
func stampAttachments(in []domain.Attachment, now time.Time) []domain.Attachment {
	out := make([]domain.Attachment, len(in))
	for i, a := range in {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.UploadedAt.IsZero() {
			a.UploadedAt = now
		}
		out[i] = a
	}
	return out
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*MongoStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
