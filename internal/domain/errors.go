package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrNotParticipant     = errors.New("user is not a participant of the conversation")
	ErrSameParticipant    = errors.New("sender and receiver must differ")
	ErrEmptyMessage       = errors.New("message has no content and no attachments")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidAttachment  = errors.New("invalid attachment")
	ErrUnauthorized       = errors.New("unauthorized")
)
