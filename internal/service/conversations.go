package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fathima-sithara/jobboard-chat/internal/domain"
	"github.com/fathima-sithara/jobboard-chat/internal/events"
)

const lastMessagePreview = 100

type Participant struct {
	UserID       string      `json:"user_id"`
	Name         string      `json:"name"`
	Email        string      `json:"email"`
	Type         domain.Role `json:"type"`
	IsOnline     bool        `json:"is_online"`
	LastActivity *time.Time  `json:"last_activity"`
}

type LastMessage struct {
	ID           string               `json:"id"`
	Content      string               `json:"content"`
	SenderID     string               `json:"sender_id"`
	CreatedAt    time.Time            `json:"created_at"`
	Status       domain.MessageStatus `json:"status"`
	IsOwnMessage bool                 `json:"is_own_message"`
}

// ConversationView is a conversation as seen by one of its participants.
type ConversationView struct {
	domain.Conversation
	UnreadCount      int          `json:"unread_count"`
	OtherParticipant *Participant `json:"other_participant"`
	LastMessage      *LastMessage `json:"last_message"`
}

func (s *ChatService) Conversations(ctx context.Context, p domain.Principal, archived bool) ([]ConversationView, error) {
	if p.Anonymous() {
		return nil, domain.ErrUnauthorized
	}
	cs, err := s.repo.ListConversations(ctx, p.UserID, archived)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, p.UserID, cs), nil
}

func (s *ChatService) Conversation(ctx context.Context, p domain.Principal, convID string) (ConversationView, error) {
	c, _, err := s.Verify(ctx, p, convID)
	if err != nil {
		return ConversationView{}, err
	}
	return s.views(ctx, p.UserID, []domain.Conversation{c})[0], nil
}

// StartConversation finds or creates the conversation between the two users.
// The caller must be one of them.
func (s *ChatService) StartConversation(ctx context.Context, p domain.Principal, spec domain.ConversationSpec) (ConversationView, bool, error) {
	if p.Anonymous() {
		return ConversationView{}, false, domain.ErrUnauthorized
	}
	if p.UserID != spec.RecruiterID && p.UserID != spec.JobSeekerID {
		return ConversationView{}, false, domain.ErrNotParticipant
	}
	c, created, err := s.repo.FindOrCreate(ctx, spec)
	if err != nil {
		return ConversationView{}, false, fmt.Errorf("find or create conversation: %w", err)
	}
	if created {
		s.events.Publish(ctx, events.Event{
			Type:           events.ConversationCreated,
			ConversationID: c.ID,
			ActorID:        p.UserID,
			At:             c.CreatedAt,
		})
	}
	return s.views(ctx, p.UserID, []domain.Conversation{c})[0], created, nil
}

func (s *ChatService) SetFlags(ctx context.Context, p domain.Principal, convID string, flags domain.ConversationFlags) (ConversationView, error) {
	if _, _, err := s.Verify(ctx, p, convID); err != nil {
		return ConversationView{}, err
	}
	c, err := s.repo.SetFlags(ctx, convID, flags)
	if err != nil {
		return ConversationView{}, err
	}
	return s.views(ctx, p.UserID, []domain.Conversation{c})[0], nil
}

// TotalUnread sums the caller's side across non-archived conversations.
func (s *ChatService) TotalUnread(ctx context.Context, p domain.Principal) (int, error) {
	if p.Anonymous() {
		return 0, domain.ErrUnauthorized
	}
	return s.repo.TotalUnread(ctx, p.UserID)
}

func (s *ChatService) views(ctx context.Context, viewer string, cs []domain.Conversation) []ConversationView {
	others := make([]string, 0, len(cs))
	for _, c := range cs {
		others = append(others, peerOf(c, viewer))
	}
	users, err := s.users.GetUsers(ctx, others)
	if err != nil {
		s.logger.Warnw("participant lookup failed", "user_id", viewer, "error", err)
		users = map[string]domain.User{}
	}
	online := s.presence.OnlineMany(ctx, others)

	out := make([]ConversationView, 0, len(cs))
	for _, c := range cs {
		v := ConversationView{Conversation: c, UnreadCount: c.UnreadFor(viewer)}
		other := peerOf(c, viewer)
		if u, ok := users[other]; ok {
			role := domain.RoleJobSeeker
			if other == c.RecruiterID {
				role = domain.RoleRecruiter
			}
			v.OtherParticipant = &Participant{
				UserID:       other,
				Name:         u.FullName(),
				Email:        u.Email,
				Type:         role,
				IsOnline:     online[other],
				LastActivity: u.LastActivity,
			}
		}
		v.LastMessage = s.lastMessage(ctx, c.ID, viewer)
		out = append(out, v)
	}
	return out
}

func (s *ChatService) lastMessage(ctx context.Context, convID, viewer string) *LastMessage {
	msgs, err := s.repo.ListMessages(ctx, convID, time.Time{}, 1)
	if err != nil || len(msgs) == 0 {
		return nil
	}
	m := msgs[len(msgs)-1]
	content := []rune(m.Content)
	if len(content) > lastMessagePreview {
		content = content[:lastMessagePreview]
	}
	return &LastMessage{
		ID:           m.ID,
		Content:      string(content),
		SenderID:     m.SenderID,
		CreatedAt:    m.CreatedAt,
		Status:       m.Status,
		IsOwnMessage: m.SenderID == viewer,
	}
}

func peerOf(c domain.Conversation, userID string) string {
	if userID == c.RecruiterID {
		return c.JobSeekerID
	}
	return c.RecruiterID
}
