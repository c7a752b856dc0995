package domain

import (
	"strings"
	"time"
)

type MessageType string

const (
	MessageText      MessageType = "text"
	MessageInterview MessageType = "interview"
	MessageOffer     MessageType = "offer"
	MessageDocument  MessageType = "document"
	MessageSystem    MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageInterview, MessageOffer, MessageDocument, MessageSystem:
		return true
	}
	return false
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Conversation is the 1:1 channel between a recruiter and a job seeker.
// RecruiterID and JobSeekerID are user ids.
type Conversation struct {
	ID                string            `json:"id" bson:"_id"`
	RecruiterID       string            `json:"recruiter_id" bson:"recruiter_id"`
	JobSeekerID       string            `json:"job_seeker_id" bson:"job_seeker_id"`
	JobID             string            `json:"job_id,omitempty" bson:"job_id,omitempty"`
	ApplicationID     string            `json:"application_id,omitempty" bson:"application_id,omitempty"`
	Subject           string            `json:"subject" bson:"subject"`
	IsArchived        bool              `json:"is_archived" bson:"is_archived"`
	IsPinned          bool              `json:"is_pinned" bson:"is_pinned"`
	IsMuted           bool              `json:"is_muted" bson:"is_muted"`
	UnreadByRecruiter int               `json:"unread_by_recruiter" bson:"unread_by_recruiter"`
	UnreadByJobSeeker int               `json:"unread_by_job_seeker" bson:"unread_by_job_seeker"`
	LastMessageAt     *time.Time        `json:"last_message_at" bson:"last_message_at"`
	Metadata          map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" bson:"updated_at"`
}

// HasParticipant reports whether userID is either side of the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (userID == c.RecruiterID || userID == c.JobSeekerID)
}

// UnreadFor returns the stored counter for the side userID sits on.
func (c Conversation) UnreadFor(userID string) int {
	switch userID {
	case c.RecruiterID:
		return c.UnreadByRecruiter
	case c.JobSeekerID:
		return c.UnreadByJobSeeker
	}
	return 0
}

type Attachment struct {
	ID         string    `json:"id" bson:"id"`
	FileKey    string    `json:"file_key" bson:"file_key"`
	FileName   string    `json:"file_name" bson:"file_name"`
	FileSize   int64     `json:"file_size" bson:"file_size"`
	FileType   string    `json:"file_type" bson:"file_type"`
	UploadedAt time.Time `json:"uploaded_at" bson:"uploaded_at"`
}

func (a Attachment) IsImage() bool { return IsImageFile(a.FileName) }

type Message struct {
	ID             string        `json:"id" bson:"_id"`
	ConversationID string        `json:"conversation_id" bson:"conversation_id"`
	SenderID       string        `json:"sender_id" bson:"sender_id"`
	ReceiverID     string        `json:"receiver_id" bson:"receiver_id"`
	Content        string        `json:"content" bson:"content"`
	Type           MessageType   `json:"message_type" bson:"message_type"`
	Status         MessageStatus `json:"status" bson:"status"`
	CreatedAt      time.Time     `json:"created_at" bson:"created_at"`
	ReadAt         *time.Time    `json:"read_at" bson:"read_at"`
	Attachments    []Attachment  `json:"attachments" bson:"attachments"`
}

// NewMessage is the write model accepted by the repository.
type NewMessage struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	Type           MessageType
	Attachments    []Attachment
}

// Check enforces the write-time rules that do not need the stored conversation.
func (m NewMessage) Check() error {
	if m.SenderID == m.ReceiverID {
		return ErrSameParticipant
	}
	if !m.Type.Valid() {
		return ErrInvalidMessageType
	}
	if strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 {
		return ErrEmptyMessage
	}
	return nil
}

type ConversationSpec struct {
	RecruiterID   string
	JobSeekerID   string
	JobID         string
	ApplicationID string
	Subject       string
	Metadata      map[string]string
}

type ConversationFlags struct {
	IsArchived *bool `json:"is_archived"`
	IsPinned   *bool `json:"is_pinned"`
	IsMuted    *bool `json:"is_muted"`
}

type TypingIndicator struct {
	ConversationID string    `json:"conversation_id" bson:"conversation_id"`
	UserID         string    `json:"user_id" bson:"user_id"`
	IsTyping       bool      `json:"is_typing" bson:"is_typing"`
	LastTypingAt   time.Time `json:"last_typing_at" bson:"last_typing_at"`
}

// Stale reports whether the indicator should be ignored at now.
func (t TypingIndicator) Stale(now time.Time, after time.Duration) bool {
	return now.Sub(t.LastTypingAt) > after
}

type Role string

const (
	RoleRecruiter Role = "recruiter"
	RoleJobSeeker Role = "job_seeker"
)

type User struct {
	ID           string     `json:"id" bson:"_id"`
	FirstName    string     `json:"first_name" bson:"first_name"`
	LastName     string     `json:"last_name" bson:"last_name"`
	Email        string     `json:"email" bson:"email"`
	Role         Role       `json:"role" bson:"role"`
	LastActivity *time.Time `json:"last_activity" bson:"last_activity"`
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
