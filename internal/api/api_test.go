package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/jobboard-chat/internal/auth"
	"github.com/fathima-sithara/jobboard-chat/internal/domain"
	"github.com/fathima-sithara/jobboard-chat/internal/hub"
	"github.com/fathima-sithara/jobboard-chat/internal/presence"
	"github.com/fathima-sithara/jobboard-chat/internal/repository"
	"github.com/fathima-sithara/jobboard-chat/internal/service"
	"github.com/fathima-sithara/jobboard-chat/internal/session"
)

const (
	jwtSecret    = "api-test-secret"
	serviceToken = "svc-token"
)

type testServer struct {
	app  *fiber.App
	repo *repository.MemoryStore
	conv domain.Conversation
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop().Sugar()
	repo := repository.NewMemoryStore()
	for _, u := range []domain.User{
		{ID: "rec", FirstName: "Rita", LastName: "Recruiter", Role: domain.RoleRecruiter},
		{ID: "seek", FirstName: "Sam", LastName: "Seeker", Role: domain.RoleJobSeeker},
	} {
		require.NoError(t, repo.UpsertUser(ctx, u))
	}
	conv, _, err := repo.FindOrCreate(ctx, domain.ConversationSpec{RecruiterID: "rec", JobSeekerID: "seek", Subject: "Backend"})
	require.NoError(t, err)

	tracker := presence.NewTracker(presence.NewMemoryStore(presence.DefaultTTL), repo, logger)
	registry := hub.NewRegistry()
	chat := service.NewChatService(service.Deps{
		Repo:     repo,
		Users:    repo,
		Presence: tracker,
		Out:      hub.NewDispatcher(registry, nil, "node", logger),
		Logger:   logger,
	}, service.Config{})
	verifier, err := auth.NewHS256Verifier(jwtSecret, "")
	require.NoError(t, err)

	app := NewServer(Options{
		AppName:      "jobboard-chat-test",
		Chat:         chat,
		Status:       tracker,
		Sessions:     session.Deps{Chat: chat, Registry: registry, Presence: tracker, Logger: logger},
		Verifier:     verifier,
		ServiceToken: serviceToken,
		Logger:       logger,
	})
	return &testServer{app: app, repo: repo, conv: conv}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID, "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return s
}

// do sends a request as userID (anonymous when empty) and decodes the JSON body into out.
func (ts *testServer) do(t *testing.T, method, path, userID string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	var health map[string]string
	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/v1/health", "", nil, &health))
	assert.Equal(t, "ok", health["status"])

	resp, err := ts.app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, "GET", "/api/v1/conversations", "", nil, nil))
}

func TestWebsocketRouteRequiresUpgrade(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusUpgradeRequired, ts.do(t, "GET", "/ws/chat/"+ts.conv.ID, "rec", nil, nil))
}

func TestConversationLifecycle(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/v1/conversations/" + ts.conv.ID

	var list []service.ConversationView
	require.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/v1/conversations", "seek", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Rita Recruiter", list[0].OtherParticipant.Name)

	assert.Equal(t, http.StatusForbidden, ts.do(t, "GET", base, "mallory", nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(t, "GET", "/api/v1/conversations/nope", "rec", nil, nil))

	var archived map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, "POST", base+"/archive", "seek", nil, &archived))
	assert.Equal(t, true, archived["is_archived"])
	require.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/v1/conversations", "seek", nil, &list))
	assert.Empty(t, list)
	require.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/v1/conversations?archived=true", "seek", nil, &list))
	assert.Len(t, list, 1)

	require.Equal(t, http.StatusOK, ts.do(t, "POST", base+"/restore", "seek", nil, nil))
	var view service.ConversationView
	require.Equal(t, http.StatusOK, ts.do(t, "PATCH", base, "rec", map[string]bool{"is_pinned": true}, &view))
	assert.True(t, view.IsPinned)
	assert.False(t, view.IsArchived)
}

func TestCreateConversation(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]string{"recruiter_id": "rec", "job_seeker_id": "newbie", "subject": "Hello"}

	assert.Equal(t, http.StatusForbidden, ts.do(t, "POST", "/api/v1/conversations", "seek", body, nil))

	var view service.ConversationView
	assert.Equal(t, http.StatusCreated, ts.do(t, "POST", "/api/v1/conversations", "rec", body, &view))
	assert.Equal(t, "newbie", view.JobSeekerID)
	assert.Equal(t, http.StatusOK, ts.do(t, "POST", "/api/v1/conversations", "rec", body, nil))

	bad := map[string]string{"recruiter_id": "rec", "job_seeker_id": "rec"}
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/v1/conversations", "rec", bad, nil))
}

func TestMessagesAndUnread(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/v1/conversations/" + ts.conv.ID

	var sent map[string]any
	require.Equal(t, http.StatusCreated, ts.do(t, "POST", base+"/messages", "rec", map[string]any{
		"content": "Interview on Monday?", "message_type": "interview",
		"attachments": []map[string]any{{"file_key": "k/agenda.pdf", "file_name": "agenda.pdf", "file_size": 100, "file_type": "application/pdf"}},
	}, &sent))
	assert.Equal(t, true, sent["is_own_message"])
	assert.Equal(t, "interview", sent["message_type"])

	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", base+"/messages", "rec", map[string]any{"content": ""}, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", base+"/messages", "rec", map[string]any{"content": "x", "message_type": "memo"}, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", base+"/messages", "rec", map[string]any{
		"attachments": []map[string]any{{"file_key": "k", "file_name": "virus.exe", "file_size": 1}},
	}, nil))
	assert.Equal(t, http.StatusForbidden, ts.do(t, "POST", base+"/messages", "mallory", map[string]any{"content": "hi"}, nil))

	var unread map[string]int
	require.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/v1/conversations/unread_count", "seek", nil, &unread))
	assert.Equal(t, 1, unread["unread_count"])

	var history struct {
		Messages []map[string]any `json:"messages"`
	}
	require.Equal(t, http.StatusOK, ts.do(t, "GET", base+"/messages?limit=10", "seek", nil, &history))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, false, history.Messages[0]["is_own_message"])
	assert.Len(t, history.Messages[0]["attachments"], 1)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "GET", base+"/messages?before=yesterday", "seek", nil, nil))

	var marked map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, "POST", base+"/mark_read", "seek", nil, &marked))
	assert.EqualValues(t, 1, marked["marked"])
	require.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/v1/conversations/unread_count", "seek", nil, &unread))
	assert.Zero(t, unread["unread_count"])
}

func TestGetMessageByID(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/v1/conversations/" + ts.conv.ID

	var sent map[string]any
	require.Equal(t, http.StatusCreated, ts.do(t, "POST", base+"/messages", "rec", map[string]any{"content": "Offer attached"}, &sent))
	msgURL := base + "/messages/" + sent["id"].(string)

	var mine map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, "GET", msgURL, "rec", nil, &mine))
	assert.Equal(t, true, mine["is_own_message"])

	var theirs map[string]any
	require.Equal(t, http.StatusOK, ts.do(t, "GET", msgURL, "seek", nil, &theirs))
	assert.Equal(t, false, theirs["is_own_message"])
	for _, field := range []string{"id", "conversation_id", "content", "message_type", "status", "created_at"} {
		assert.Equal(t, sent[field], theirs[field], field)
	}
	assert.Equal(t, "rec", theirs["sender"].(map[string]any)["id"])

	assert.Equal(t, http.StatusForbidden, ts.do(t, "GET", msgURL, "mallory", nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(t, "GET", base+"/messages/missing", "seek", nil, nil))
}

func TestTypingEndpoints(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/v1/conversations/" + ts.conv.ID

	require.Equal(t, http.StatusOK, ts.do(t, "POST", base+"/typing", "rec", map[string]bool{"is_typing": true}, nil))
	var out struct {
		Typing []map[string]any `json:"typing"`
	}
	require.Equal(t, http.StatusOK, ts.do(t, "GET", base+"/typing", "seek", nil, &out))
	require.Len(t, out.Typing, 1)
	assert.Equal(t, "Rita Recruiter", out.Typing[0]["user_name"])
}

func TestUserStatus(t *testing.T) {
	ts := newTestServer(t)
	var st presence.Status
	require.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/v1/users/rec/status", "seek", nil, &st))
	assert.Equal(t, "offline", st.Status)
	assert.Nil(t, st.LastActivityDisplay)
	assert.Equal(t, http.StatusNotFound, ts.do(t, "GET", "/api/v1/users/ghost/status", "seek", nil, nil))

	var batch struct {
		Statuses map[string]presence.Status `json:"statuses"`
	}
	require.Equal(t, http.StatusOK, ts.do(t, "POST", "/api/v1/users/status", "seek", map[string]any{"user_ids": []string{"rec", "seek", "ghost"}}, &batch))
	assert.Len(t, batch.Statuses, 2)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/v1/users/status", "seek", map[string]any{"user_ids": []string{}}, nil))
}

func TestInternalApplications(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]string{
		"application_id": "app-1", "job_id": "job-1", "job_title": "Go Engineer",
		"recruiter_id": "rec", "job_seeker_id": "fresh", "seeker_first_name": "Fay",
	}
	send := func(token string, payload any) (int, domain.Conversation) {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		req := httptest.NewRequest("POST", "/api/v1/internal/applications", bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Service-Token", token)
		resp, err := ts.app.Test(req, -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		var c domain.Conversation
		_ = json.NewDecoder(resp.Body).Decode(&c)
		return resp.StatusCode, c
	}

	code, _ := send("wrong", body)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, conv := send(serviceToken, body)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Regarding your application for Go Engineer", conv.Subject)
	msgs, err := ts.repo.ListMessages(context.Background(), conv.ID, time.Time{}, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	code, _ = send(serviceToken, map[string]string{"recruiter_id": "rec"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(domain.ErrNotFound))
	assert.Equal(t, http.StatusForbidden, statusFor(domain.ErrNotParticipant))
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrSameParticipant))
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrEmptyMessage))
	assert.Equal(t, http.StatusTeapot, statusFor(fiber.NewError(http.StatusTeapot, "brew")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
