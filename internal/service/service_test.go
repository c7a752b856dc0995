package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/jobboard-chat/internal/domain"
	"github.com/fathima-sithara/jobboard-chat/internal/events"
	"github.com/fathima-sithara/jobboard-chat/internal/hub"
	"github.com/fathima-sithara/jobboard-chat/internal/presence"
	"github.com/fathima-sithara/jobboard-chat/internal/protocol"
	"github.com/fathima-sithara/jobboard-chat/internal/repository"
	"github.com/fathima-sithara/jobboard-chat/internal/storage"
)

type recorder struct {
	uid    string
	mu     sync.Mutex
	frames [][]byte
}

func (r *recorder) UserID() string { return r.uid }

func (r *recorder) Deliver(frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	return true
}

func (r *recorder) decoded(t *testing.T) []map[string]any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]map[string]any, 0, len(r.frames))
	for _, f := range r.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

type published struct {
	mu  sync.Mutex
	evs []events.Event
}

func (p *published) Publish(_ context.Context, ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, ev)
}

func (p *published) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.evs))
	for _, e := range p.evs {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc      *ChatService
	repo     *repository.MemoryStore
	registry *hub.Registry
	events   *published
	conv     domain.Conversation
	rec      domain.Identity
	seek     domain.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop().Sugar()
	repo := repository.NewMemoryStore()
	require.NoError(t, repo.UpsertUser(ctx, domain.User{ID: "rec", FirstName: "Rita", LastName: "Recruiter", Email: "rita@example.com", Role: domain.RoleRecruiter}))
	require.NoError(t, repo.UpsertUser(ctx, domain.User{ID: "seek", FirstName: "Sam", LastName: "Seeker", Email: "sam@example.com", Role: domain.RoleJobSeeker}))

	registry := hub.NewRegistry()
	pub := &published{}
	tracker := presence.NewTracker(presence.NewMemoryStore(presence.DefaultTTL), repo, logger)
	svc := NewChatService(Deps{
		Repo:     repo,
		Users:    repo,
		Presence: tracker,
		Out:      hub.NewDispatcher(registry, nil, "node-a", logger),
		URLs:     storage.StaticResolver{BaseURL: "https://cdn.example.com/media"},
		Events:   pub,
		Logger:   logger,
	}, Config{})

	c, _, err := repo.FindOrCreate(ctx, domain.ConversationSpec{RecruiterID: "rec", JobSeekerID: "seek", Subject: "Backend role"})
	require.NoError(t, err)
	_, rec, err := svc.Verify(ctx, domain.Principal{UserID: "rec"}, c.ID)
	require.NoError(t, err)
	_, seek, err := svc.Verify(ctx, domain.Principal{UserID: "seek"}, c.ID)
	require.NoError(t, err)

	return &fixture{svc: svc, repo: repo, registry: registry, events: pub, conv: c, rec: rec, seek: seek}
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Verify(ctx, domain.Principal{}, f.conv.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, _, err = f.svc.Verify(ctx, domain.Principal{UserID: "mallory"}, f.conv.ID)
	assert.ErrorIs(t, err, domain.ErrNotParticipant)

	_, _, err = f.svc.Verify(ctx, domain.Principal{UserID: "rec"}, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, "seek", f.rec.Counterpart())
	assert.Equal(t, domain.RoleJobSeeker, f.seek.Side)
}

func TestSendMessageBroadcastsPerRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recConn := &recorder{uid: "rec"}
	seekConn := &recorder{uid: "seek"}
	f.registry.Register(f.conv.ID, recConn)
	f.registry.Register(f.conv.ID, seekConn)

	p, err := f.svc.SendMessage(ctx, f.rec, SendInput{Content: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageText, p.MessageType)
	assert.Equal(t, domain.StatusDelivered, p.Status)
	assert.True(t, p.IsOwnMessage)
	assert.True(t, p.Sender.IsOnline)
	assert.Equal(t, "Rita", p.Sender.FirstName)
	assert.Equal(t, "seek", p.Receiver.ID)

	for conn, own := range map[*recorder]bool{recConn: true, seekConn: false} {
		frames := conn.decoded(t)
		require.Len(t, frames, 1)
		assert.Equal(t, protocol.TypeMessage, frames[0]["type"])
		data := frames[0]["data"].(map[string]any)
		assert.Equal(t, "Hello", data["content"])
		assert.Equal(t, own, data["is_own_message"])
	}

	n, err := f.repo.UnreadCount(ctx, f.conv.ID, "seek")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.repo.UnreadCount(ctx, f.conv.ID, "rec")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []events.Type{events.MessageCreated}, f.events.types())
}

func TestSendMessageRoundTripKeepsFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sent, err := f.svc.SendMessage(ctx, f.rec, SendInput{
		Content: "Offer attached",
		Type:    domain.MessageOffer,
		Attachments: []domain.Attachment{
			{FileKey: "offers/letter.pdf", FileName: "letter.pdf", FileSize: 2048, FileType: "application/pdf"},
			{FileKey: "offers/office.png", FileName: "office.png", FileSize: 4096, FileType: "image/png"},
		},
	})
	require.NoError(t, err)

	got, err := f.svc.GetMessage(ctx, f.seek, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, sent.Content, got.Content)
	assert.Equal(t, sent.MessageType, got.MessageType)
	assert.Equal(t, sent.Attachments, got.Attachments)
	assert.False(t, got.IsOwnMessage)

	require.Len(t, got.Attachments, 2)
	assert.Equal(t, "https://cdn.example.com/media/offers/letter.pdf", got.Attachments[0].FileURL)
	assert.False(t, got.Attachments[0].IsImage)
	assert.True(t, got.Attachments[1].IsImage)
	assert.NotEmpty(t, got.Attachments[0].ID)
}

func TestSendMessageRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, f.rec, SendInput{Content: "x", Type: "memo"})
	assert.ErrorIs(t, err, domain.ErrInvalidMessageType)

	_, err = f.svc.SendMessage(ctx, f.rec, SendInput{Content: "  "})
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)

	_, err = f.svc.SendMessage(ctx, f.rec, SendInput{Attachments: []domain.Attachment{
		{FileKey: "k", FileName: "run.exe", FileSize: 10},
	}})
	assert.ErrorIs(t, err, domain.ErrInvalidAttachment)

	n, err := f.repo.UnreadCount(ctx, f.conv.ID, "seek")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.events.types())
}

func TestMarkReadBroadcastsOnlyOnTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recConn := &recorder{uid: "rec"}
	f.registry.Register(f.conv.ID, recConn)

	sent, err := f.svc.SendMessage(ctx, f.rec, SendInput{Content: "Hello"})
	require.NoError(t, err)

	changed, err := f.svc.MarkRead(ctx, f.rec, sent.ID)
	require.NoError(t, err)
	assert.False(t, changed, "sender cannot read its own message")

	changed, err = f.svc.MarkRead(ctx, f.seek, sent.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.svc.MarkRead(ctx, f.seek, sent.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	frames := recConn.decoded(t)
	require.Len(t, frames, 2)
	assert.Equal(t, protocol.TypeReadReceipt, frames[1]["type"])
	assert.Equal(t, sent.ID, frames[1]["message_id"])
	assert.Equal(t, "seek", frames[1]["user_id"])

	n, err := f.repo.UnreadCount(ctx, f.conv.ID, "seek")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []events.Type{events.MessageCreated, events.MessageRead}, f.events.types())
}

func TestMarkAllRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.SendMessage(ctx, f.rec, SendInput{Content: "ping"})
		require.NoError(t, err)
	}

	n, err := f.svc.MarkAllRead(ctx, f.seek)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.svc.MarkAllRead(ctx, f.seek)
	require.NoError(t, err)
	assert.Zero(t, n)

	total, err := f.svc.TotalUnread(ctx, domain.Principal{UserID: "seek"})
	require.NoError(t, err)
	assert.Zero(t, total)

	history, err := f.svc.History(ctx, f.seek, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for _, m := range history {
		assert.Equal(t, domain.StatusRead, m.Status)
		assert.NotNil(t, m.ReadAt)
		assert.False(t, m.IsOwnMessage)
	}
}

func TestTypingReachesEveryTab(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tab1 := &recorder{uid: "seek"}
	tab2 := &recorder{uid: "seek"}
	f.registry.Register(f.conv.ID, tab1)
	f.registry.Register(f.conv.ID, tab2)

	require.NoError(t, f.svc.SetTyping(ctx, f.rec, true))

	for _, tab := range []*recorder{tab1, tab2} {
		frames := tab.decoded(t)
		require.Len(t, frames, 1)
		assert.Equal(t, protocol.TypeTyping, frames[0]["type"])
		assert.Equal(t, "Rita Recruiter", frames[0]["user_name"])
		assert.Equal(t, true, frames[0]["is_typing"])
	}

	active, err := f.svc.ActiveTyping(ctx, f.seek)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "rec", active[0].UserID)

	active, err = f.svc.ActiveTyping(ctx, f.rec)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestConversationViews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SendMessage(ctx, f.rec, SendInput{Content: strings.Repeat("a", 150)})
	require.NoError(t, err)

	views, err := f.svc.Conversations(ctx, domain.Principal{UserID: "seek"}, false)
	require.NoError(t, err)
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, 1, v.UnreadCount)
	require.NotNil(t, v.OtherParticipant)
	assert.Equal(t, "Rita Recruiter", v.OtherParticipant.Name)
	assert.Equal(t, domain.RoleRecruiter, v.OtherParticipant.Type)
	require.NotNil(t, v.LastMessage)
	assert.Len(t, v.LastMessage.Content, 100)
	assert.False(t, v.LastMessage.IsOwnMessage)

	archived := true
	_, err = f.svc.SetFlags(ctx, domain.Principal{UserID: "seek"}, f.conv.ID, domain.ConversationFlags{IsArchived: &archived})
	require.NoError(t, err)
	views, err = f.svc.Conversations(ctx, domain.Principal{UserID: "seek"}, false)
	require.NoError(t, err)
	assert.Empty(t, views)

	_, err = f.svc.SetFlags(ctx, domain.Principal{UserID: "mallory"}, f.conv.ID, domain.ConversationFlags{IsArchived: &archived})
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
}

func TestStartConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spec := domain.ConversationSpec{RecruiterID: "rec", JobSeekerID: "other", Subject: "Hi"}

	_, _, err := f.svc.StartConversation(ctx, domain.Principal{UserID: "seek"}, spec)
	assert.ErrorIs(t, err, domain.ErrNotParticipant)

	v, created, err := f.svc.StartConversation(ctx, domain.Principal{UserID: "rec"}, spec)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := f.svc.StartConversation(ctx, domain.Principal{UserID: "rec"}, spec)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, v.ID, again.ID)
	assert.Equal(t, []events.Type{events.ConversationCreated}, f.events.types())
}

func TestOpenForApplicationSeedsNewConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	letter := strings.Repeat("é", 350)

	c, err := f.svc.OpenForApplication(ctx, events.ApplicationCreated{
		ApplicationID:   "app-1",
		JobID:           "job-1",
		JobTitle:        "Go Engineer",
		RecruiterID:     "rec",
		JobSeekerID:     "newbie",
		SeekerFirstName: "Nia",
		CoverLetter:     letter,
	})
	require.NoError(t, err)
	assert.Equal(t, "Regarding your application for Go Engineer", c.Subject)
	assert.Equal(t, "app-1", c.ApplicationID)
	assert.Equal(t, 1, c.UnreadByJobSeeker)
	assert.Equal(t, 1, c.UnreadByRecruiter)

	msgs, err := f.repo.ListMessages(ctx, c.ID, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.MessageSystem, msgs[0].Type)
	assert.Equal(t, "rec", msgs[0].SenderID)
	assert.Equal(t, "Hello Nia! Thank you for applying for the Go Engineer position. "+
		"This chat is for communication regarding your application.", msgs[0].Content)
	assert.Equal(t, domain.MessageText, msgs[1].Type)
	assert.Equal(t, "newbie", msgs[1].SenderID)
	assert.Equal(t, "Application cover letter: "+strings.Repeat("é", 300)+"...", msgs[1].Content)
}

func TestOpenForApplicationLinksExistingConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := events.ApplicationCreated{
		ApplicationID: "app-2",
		JobID:         "job-2",
		JobTitle:      "SRE",
		RecruiterID:   "rec",
		JobSeekerID:   "seek",
		CoverLetter:   "short",
	}

	c, err := f.svc.OpenForApplication(ctx, app)
	require.NoError(t, err)
	assert.Equal(t, f.conv.ID, c.ID)
	assert.Equal(t, "app-2", c.ApplicationID)
	assert.Equal(t, "job-2", c.JobID)

	msgs, err := f.repo.ListMessages(ctx, c.ID, time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = f.svc.OpenForApplication(ctx, events.ApplicationCreated{RecruiterID: "rec", JobSeekerID: "rec"})
	assert.Error(t, err)
}

// flakyRepo fails the failOn-th AppendMessage call once.
type flakyRepo struct {
	repository.Repository
	mu     sync.Mutex
	calls  int
	failOn int
}

func (r *flakyRepo) AppendMessage(ctx context.Context, nm domain.NewMessage) (domain.Message, error) {
	r.mu.Lock()
	r.calls++
	fail := r.calls == r.failOn
	r.mu.Unlock()
	if fail {
		return domain.Message{}, errors.New("write conflict")
	}
	return r.Repository.AppendMessage(ctx, nm)
}

func TestOpenForApplicationReplayFinishesSeeding(t *testing.T) {
	for _, tc := range []struct {
		name   string
		failOn int
	}{
		{"welcome fails", 1},
		{"cover letter fails", 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			logger := zap.NewNop().Sugar()
			svc := NewChatService(Deps{
				Repo:     &flakyRepo{Repository: f.repo, failOn: tc.failOn},
				Users:    f.repo,
				Presence: presence.NewTracker(presence.NewMemoryStore(presence.DefaultTTL), f.repo, logger),
				Out:      hub.NewDispatcher(f.registry, nil, "node-a", logger),
				Logger:   logger,
			}, Config{})
			app := events.ApplicationCreated{
				ApplicationID:   "app-9",
				JobID:           "job-9",
				JobTitle:        "Data Engineer",
				RecruiterID:     "rec",
				JobSeekerID:     "applicant",
				SeekerFirstName: "Ari",
				CoverLetter:     "I like pipelines.",
			}

			_, err := svc.OpenForApplication(ctx, app)
			require.Error(t, err)

			c, err := svc.OpenForApplication(ctx, app)
			require.NoError(t, err)
			msgs, err := f.repo.ListMessages(ctx, c.ID, time.Time{}, 10)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, domain.MessageSystem, msgs[0].Type)
			assert.Equal(t, "Application cover letter: I like pipelines.", msgs[1].Content)
			assert.Equal(t, 1, c.UnreadByJobSeeker)
			assert.Equal(t, 1, c.UnreadByRecruiter)

			// a further replay writes nothing
			_, err = svc.OpenForApplication(ctx, app)
			require.NoError(t, err)
			msgs, err = f.repo.ListMessages(ctx, c.ID, time.Time{}, 10)
			require.NoError(t, err)
			assert.Len(t, msgs, 2)
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "abc", preview("abc", 3))
	assert.Equal(t, "ab...", preview("abc", 2))
}
