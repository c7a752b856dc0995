package service

import (
	"context"

	"github.com/fathima-sithara/jobboard-chat/internal/domain"
	"github.com/fathima-sithara/jobboard-chat/internal/protocol"
)

// serialize renders msgs with participant summaries and attachment URLs.
// Lookup failures degrade the payload rather than fail it: the messages are
// already persisted. active, when set, is reported online regardless of the
// presence store since that user is acting right now.
func (s *ChatService) serialize(ctx context.Context, msgs []domain.Message, active string) []protocol.MessagePayload {
	ids := make([]string, 0, 2)
	seen := make(map[string]struct{}, 2)
	for _, m := range msgs {
		for _, u := range [2]string{m.SenderID, m.ReceiverID} {
			if _, ok := seen[u]; !ok {
				seen[u] = struct{}{}
				ids = append(ids, u)
			}
		}
	}

	users, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		s.logger.Warnw("user lookup for serialization failed", "count", len(ids), "error", err)
		users = map[string]domain.User{}
	}
	online := s.presence.OnlineMany(ctx, ids)
	if online == nil {
		online = map[string]bool{}
	}
	if active != "" {
		online[active] = true
	}

	summary := func(userID string) protocol.UserSummary {
		u := users[userID]
		return protocol.UserSummary{
			ID:        userID,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Email:     u.Email,
			IsOnline:  online[userID],
		}
	}

	out := make([]protocol.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, protocol.MessagePayload{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Sender:         summary(m.SenderID),
			Receiver:       summary(m.ReceiverID),
			Content:        m.Content,
			MessageType:    m.Type,
			Status:         m.Status,
			CreatedAt:      m.CreatedAt,
			ReadAt:         m.ReadAt,
			Attachments:    s.attachments(ctx, m.Attachments),
		})
	}
	return out
}

func (s *ChatService) attachments(ctx context.Context, as []domain.Attachment) []protocol.AttachmentPayload {
	out := make([]protocol.AttachmentPayload, 0, len(as))
	for _, a := range as {
		u, err := s.urls.URL(ctx, a.FileKey)
		if err != nil {
			s.logger.Warnw("attachment url", "file_key", a.FileKey, "error", err)
		}
		out = append(out, protocol.AttachmentPayload{
			ID:         a.ID,
			FileName:   a.FileName,
			FileSize:   a.FileSize,
			FileType:   a.FileType,
			FileURL:    u,
			IsImage:    a.IsImage(),
			UploadedAt: a.UploadedAt,
		})
	}
	return out
}
