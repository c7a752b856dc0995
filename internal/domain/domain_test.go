package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveIdentity(t *testing.T) {
	c := Conversation{ID: "c1", RecruiterID: "r", JobSeekerID: "s"}

	id, err := ResolveIdentity(c, "r")
	require.NoError(t, err)
	assert.True(t, id.IsRecruiter())
	assert.Equal(t, "s", id.Counterpart())

	id, err = ResolveIdentity(c, "s")
	require.NoError(t, err)
	assert.Equal(t, RoleJobSeeker, id.Side)
	assert.Equal(t, "r", id.Counterpart())

	_, err = ResolveIdentity(c, "x")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = ResolveIdentity(c, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewMessageCheck(t *testing.T) {
	base := NewMessage{ConversationID: "c", SenderID: "a", ReceiverID: "b", Content: "hi", Type: MessageText}
	assert.NoError(t, base.Check())

	same := base
	same.ReceiverID = "a"
	assert.ErrorIs(t, same.Check(), ErrSameParticipant)

	empty := base
	empty.Content = "   "
	assert.ErrorIs(t, empty.Check(), ErrEmptyMessage)

	empty.Attachments = []Attachment{{ID: "f"}}
	assert.NoError(t, empty.Check())

	bad := base
	bad.Type = "gif"
	assert.ErrorIs(t, bad.Check(), ErrInvalidMessageType)
}

func TestValidateAttachment(t *testing.T) {
	ok := Attachment{FileKey: "k", FileName: "cv.PDF", FileSize: 1024}
	assert.NoError(t, ValidateAttachment(ok, 0))

	big := ok
	big.FileSize = DefaultMaxAttachmentSize + 1
	assert.ErrorIs(t, ValidateAttachment(big, 0), ErrInvalidAttachment)

	exe := ok
	exe.FileName = "run.exe"
	assert.ErrorIs(t, ValidateAttachment(exe, 0), ErrInvalidAttachment)

	assert.True(t, IsImageFile("photo.WEBP"))
	assert.False(t, IsImageFile("cv.pdf"))
}

func TestTypingStale(t *testing.T) {
	now := time.Now()
	ti := TypingIndicator{LastTypingAt: now.Add(-11 * time.Second)}
	assert.True(t, ti.Stale(now, 10*time.Second))
	ti.LastTypingAt = now.Add(-2 * time.Second)
	assert.False(t, ti.Stale(now, 10*time.Second))
}

func TestUnreadFor(t *testing.T) {
	c := Conversation{RecruiterID: "r", JobSeekerID: "s", UnreadByRecruiter: 2, UnreadByJobSeeker: 5}
	assert.Equal(t, 2, c.UnreadFor("r"))
	assert.Equal(t, 5, c.UnreadFor("s"))
	assert.Equal(t, 0, c.UnreadFor("x"))
	assert.True(t, c.HasParticipant("s"))
	assert.False(t, c.HasParticipant(""))
}
