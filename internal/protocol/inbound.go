package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	TypePing        = "ping"
	TypePong        = "pong"
	TypeConnected   = "connected"
	TypeMessage     = "message"
	TypeTyping      = "typing"
	TypeReadReceipt = "read_receipt"
)

var (
	ErrMalformed   = errors.New("malformed frame")
	ErrUnknownType = errors.New("unknown frame type")
	ErrInvalid     = errors.New("invalid frame")
)

var validate = validator.New()

// Inbound is any client frame. Only the fields of its Type are meaningful.
type Inbound struct {
	Type        string `json:"type"`
	Content     string `json:"content" validate:"required_if=Type message,max=10000"`
	MessageType string `json:"message_type" validate:"omitempty,oneof=text interview offer document system"`
	IsTyping    bool   `json:"is_typing"`
	MessageID   string `json:"message_id" validate:"required_if=Type read_receipt"`
}

func Decode(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch in.Type {
	case TypePing, TypeMessage, TypeTyping, TypeReadReceipt:
	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownType, in.Type)
	}
	if err := validate.Struct(in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return in, nil
}
