package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fathima-sithara/jobboard-chat/internal/domain"
)

type UserSummary struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	IsOnline  bool   `json:"is_online"`
}

type AttachmentPayload struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	FileSize   int64     `json:"file_size"`
	FileType   string    `json:"file_type"`
	FileURL    string    `json:"file_url"`
	IsImage    bool      `json:"is_image"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// MessagePayload is the serialized message shared by the socket and REST.
// IsOwnMessage is relative to whoever the payload is rendered for.
type MessagePayload struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversation_id"`
	Sender         UserSummary          `json:"sender"`
	Receiver       UserSummary          `json:"receiver"`
	Content        string               `json:"content"`
	MessageType    domain.MessageType   `json:"message_type"`
	Status         domain.MessageStatus `json:"status"`
	CreatedAt      time.Time            `json:"created_at"`
	ReadAt         *time.Time           `json:"read_at"`
	Attachments    []AttachmentPayload  `json:"attachments"`
	IsOwnMessage   bool                 `json:"is_own_message"`
}

func (p MessagePayload) For(userID string) MessagePayload {
	p.IsOwnMessage = p.Sender.ID == userID
	return p
}

type ConnectedFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type PongFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageFrame struct {
	Type string         `json:"type"`
	Data MessagePayload `json:"data"`
}

type TypingFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
	IsTyping       bool   `json:"is_typing"`
}

type ReadReceiptFrame struct {
	Type      string    `json:"type"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

func Connected() ([]byte, error) {
	return json.Marshal(ConnectedFrame{Type: TypeConnected, Message: "WebSocket connected successfully"})
}

func Pong(at time.Time) ([]byte, error) {
	return json.Marshal(PongFrame{Type: TypePong, Timestamp: at.UTC()})
}

// Event is what gets broadcast to a conversation and carried over the bus.
// It is rendered into a wire frame once per recipient.
type Event struct {
	Kind    string            `json:"kind"`
	Message *MessagePayload   `json:"message,omitempty"`
	Typing  *TypingFrame      `json:"typing,omitempty"`
	Receipt *ReadReceiptFrame `json:"receipt,omitempty"`
}

func MessageEvent(p MessagePayload) Event {
	return Event{Kind: TypeMessage, Message: &p}
}

func TypingEvent(conversationID, userID, userName string, isTyping bool) Event {
	return Event{Kind: TypeTyping, Typing: &TypingFrame{
		Type: TypeTyping, ConversationID: conversationID, UserID: userID, UserName: userName, IsTyping: isTyping,
	}}
}

func ReadReceiptEvent(messageID, userID string, at time.Time) Event {
	return Event{Kind: TypeReadReceipt, Receipt: &ReadReceiptFrame{
		Type: TypeReadReceipt, MessageID: messageID, UserID: userID, Timestamp: at.UTC(),
	}}
}

// Frame renders e for the connection authenticated as userID.
func (e Event) Frame(userID string) ([]byte, error) {
	switch {
	case e.Kind == TypeMessage && e.Message != nil:
		return json.Marshal(MessageFrame{Type: TypeMessage, Data: e.Message.For(userID)})
	case e.Kind == TypeTyping && e.Typing != nil:
		return json.Marshal(e.Typing)
	case e.Kind == TypeReadReceipt && e.Receipt != nil:
		return json.Marshal(e.Receipt)
	}
	return nil, fmt.Errorf("%w: event kind %q", ErrInvalid, e.Kind)
}
