package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fathima-sithara/jobboard-chat/internal/domain"
)

type memConversation struct {
	mu       sync.Mutex
	conv     domain.Conversation
	messages []*domain.Message
	byID     map[string]*domain.Message
	typing   map[string]domain.TypingIndicator
}

// MemoryStore keeps everything in process. Each conversation carries its own
// lock so that writes to unrelated conversations do not serialize.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*memConversation
	pairs map[string]string

	usersMu sync.RWMutex
	users   map[string]domain.User

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string]*memConversation),
		pairs: make(map[string]string),
		users: make(map[string]domain.User),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func pairKey(recruiterID, jobSeekerID string) string { return recruiterID + "|" + jobSeekerID }

func (s *MemoryStore) lookup(conversationID string) (*memConversation, error) {
	s.mu.RLock()
	mc, ok := s.convs[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return mc, nil
}

func (s *MemoryStore) FindOrCreate(_ context.Context, spec domain.ConversationSpec) (domain.Conversation, bool, error) {
	if err := checkSpec(spec); err != nil {
		return domain.Conversation{}, false, err
	}
	key := pairKey(spec.RecruiterID, spec.JobSeekerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.pairs[key]; ok {
		mc := s.convs[id]
		mc.mu.Lock()
		defer mc.mu.Unlock()
		return mc.conv, false, nil
	}
	now := s.now()
	c := domain.Conversation{
		ID:            uuid.NewString(),
		RecruiterID:   spec.RecruiterID,
		JobSeekerID:   spec.JobSeekerID,
		JobID:         spec.JobID,
		ApplicationID: spec.ApplicationID,
		Subject:       spec.Subject,
		Metadata:      spec.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.convs[c.ID] = &memConversation{
		conv:   c,
		byID:   make(map[string]*domain.Message),
		typing: make(map[string]domain.TypingIndicator),
	}
	s.pairs[key] = c.ID
	return c, true, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, conversationID string) (domain.Conversation, error) {
	mc, err := s.lookup(conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.conv, nil
}

func (s *MemoryStore) ListConversations(_ context.Context, userID string, archived bool) ([]domain.Conversation, error) {
	s.mu.RLock()
	all := make([]*memConversation, 0, len(s.convs))
	for _, mc := range s.convs {
		all = append(all, mc)
	}
	s.mu.RUnlock()

	out := []domain.Conversation{}
	for _, mc := range all {
		mc.mu.Lock()
		c := mc.conv
		mc.mu.Unlock()
		if c.HasParticipant(userID) && c.IsArchived == archived {
			out = append(out, c)
		}
	}
	sortByActivity(out)
	return out, nil
}

// sortByActivity orders by last_message_at desc, conversations without
// messages last, newest created first among those.
func sortByActivity(cs []domain.Conversation) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i].LastMessageAt, cs[j].LastMessageAt
		switch {
		case a != nil && b != nil:
			return a.After(*b)
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return cs[i].CreatedAt.After(cs[j].CreatedAt)
	})
}

func (s *MemoryStore) LinkApplication(_ context.Context, conversationID, applicationID, jobID string) error {
	mc, err := s.lookup(conversationID)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if applicationID != "" {
		mc.conv.ApplicationID = applicationID
	}
	if jobID != "" {
		mc.conv.JobID = jobID
	}
	mc.conv.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetFlags(_ context.Context, conversationID string, flags domain.ConversationFlags) (domain.Conversation, error) {
	mc, err := s.lookup(conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if flags.IsArchived != nil {
		mc.conv.IsArchived = *flags.IsArchived
	}
	if flags.IsPinned != nil {
		mc.conv.IsPinned = *flags.IsPinned
	}
	if flags.IsMuted != nil {
		mc.conv.IsMuted = *flags.IsMuted
	}
	mc.conv.UpdatedAt = s.now()
	return mc.conv, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, nm domain.NewMessage) (domain.Message, error) {
	if err := nm.Check(); err != nil {
		return domain.Message{}, err
	}
	mc, err := s.lookup(nm.ConversationID)
	if err != nil {
		return domain.Message{}, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := checkParticipants(mc.conv, nm); err != nil {
		return domain.Message{}, err
	}

	now := s.now()
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: nm.ConversationID,
		SenderID:       nm.SenderID,
		ReceiverID:     nm.ReceiverID,
		Content:        nm.Content,
		Type:           nm.Type,
		Status:         domain.StatusDelivered,
		CreatedAt:      now,
		Attachments:    stampAttachments(nm.Attachments, now),
	}
	mc.messages = append(mc.messages, m)
	mc.byID[m.ID] = m

	if nm.ReceiverID == mc.conv.RecruiterID {
		mc.conv.UnreadByRecruiter++
	} else {
		mc.conv.UnreadByJobSeeker++
	}
	mc.conv.LastMessageAt = &now
	mc.conv.UpdatedAt = now
	return copyMessage(m), nil
}

func (s *MemoryStore) GetMessage(_ context.Context, conversationID, messageID string) (domain.Message, error) {
	mc, err := s.lookup(conversationID)
	if err != nil {
		return domain.Message{}, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	m, ok := mc.byID[messageID]
	if !ok {
		return domain.Message{}, domain.ErrNotFound
	}
	return copyMessage(m), nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string, before time.Time, limit int) ([]domain.Message, error) {
	mc, err := s.lookup(conversationID)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	mc.mu.Lock()
	defer mc.mu.Unlock()

	end := len(mc.messages)
	if !before.IsZero() {
		end = sort.Search(len(mc.messages), func(i int) bool {
			return !mc.messages[i].CreatedAt.Before(before)
		})
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]domain.Message, 0, end-start)
	for _, m := range mc.messages[start:end] {
		out = append(out, copyMessage(m))
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, conversationID, messageID, readerID string) (domain.Message, bool, error) {
	mc, err := s.lookup(conversationID)
	if err != nil {
		return domain.Message{}, false, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	m, ok := mc.byID[messageID]
	if !ok {
		return domain.Message{}, false, domain.ErrNotFound
	}
	if m.ReceiverID != readerID || m.Status == domain.StatusRead {
		return copyMessage(m), false, nil
	}
	now := s.now()
	m.Status = domain.StatusRead
	m.ReadAt = &now
	mc.decrement(readerID)
	return copyMessage(m), true, nil
}

func (s *MemoryStore) MarkAllRead(_ context.Context, conversationID, readerID string) (int, error) {
	mc, err := s.lookup(conversationID)
	if err != nil {
		return 0, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if !mc.conv.HasParticipant(readerID) {
		return 0, domain.ErrNotParticipant
	}
	now := s.now()
	n := 0
	for _, m := range mc.messages {
		if m.ReceiverID == readerID && m.Status != domain.StatusRead {
			m.Status = domain.StatusRead
			t := now
			m.ReadAt = &t
			n++
		}
	}
	if readerID == mc.conv.RecruiterID {
		mc.conv.UnreadByRecruiter = 0
	} else {
		mc.conv.UnreadByJobSeeker = 0
	}
	return n, nil
}

// decrement lowers the reader's side by one, never below zero. Caller holds mc.mu.
func (mc *memConversation) decrement(readerID string) {
	switch readerID {
	case mc.conv.RecruiterID:
		if mc.conv.UnreadByRecruiter > 0 {
			mc.conv.UnreadByRecruiter--
		}
	case mc.conv.JobSeekerID:
		if mc.conv.UnreadByJobSeeker > 0 {
			mc.conv.UnreadByJobSeeker--
		}
	}
}

func (s *MemoryStore) UnreadCount(_ context.Context, conversationID, userID string) (int, error) {
	mc, err := s.lookup(conversationID)
	if err != nil {
		return 0, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if !mc.conv.HasParticipant(userID) {
		return 0, domain.ErrNotParticipant
	}
	return mc.conv.UnreadFor(userID), nil
}

func (s *MemoryStore) TotalUnread(ctx context.Context, userID string) (int, error) {
	convs, err := s.ListConversations(ctx, userID, false)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range convs {
		total += c.UnreadFor(userID)
	}
	return total, nil
}

func (s *MemoryStore) UpsertTyping(_ context.Context, t domain.TypingIndicator) error {
	mc, err := s.lookup(t.ConversationID)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if !mc.conv.HasParticipant(t.UserID) {
		return domain.ErrNotParticipant
	}
	if t.LastTypingAt.IsZero() {
		t.LastTypingAt = s.now()
	}
	mc.typing[t.UserID] = t
	return nil
}

func (s *MemoryStore) ActiveTyping(_ context.Context, conversationID string, staleAfter time.Duration) ([]domain.TypingIndicator, error) {
	mc, err := s.lookup(conversationID)
	if err != nil {
		return nil, err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := s.now()
	out := []domain.TypingIndicator{}
	for _, t := range mc.typing {
		if t.IsTyping && !t.Stale(now, staleAfter) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (domain.User, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) GetUsers(_ context.Context, userIDs []string) (map[string]domain.User, error) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	out := make(map[string]domain.User, len(userIDs))
	for _, id := range userIDs {
		if u, ok := s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, u domain.User) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	if prev, ok := s.users[u.ID]; ok && u.LastActivity == nil {
		u.LastActivity = prev.LastActivity
	}
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) TouchActivity(_ context.Context, userID string, at time.Time) error {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	at = at.UTC()
	u.LastActivity = &at
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }

func copyMessage(m *domain.Message) domain.Message {
	out := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		out.ReadAt = &t
	}
	out.Attachments = cloneAttachments(m.Attachments)
	return out
}

func cloneAttachments(in []domain.Attachment) []domain.Attachment {
	out := make([]domain.Attachment, len(in))
	copy(out, in)
	return out
}
