package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fathima-sithara/jobboard-chat/internal/domain"
	"github.com/fathima-sithara/jobboard-chat/internal/events"
	"github.com/fathima-sithara/jobboard-chat/internal/metrics"
	"github.com/fathima-sithara/jobboard-chat/internal/protocol"
)

const coverLetterPreview = 300

// OpenForApplication makes sure the recruiter and the applicant have a
// conversation. A new conversation is seeded with a welcome message from the
// recruiter and, when given, the start of the cover letter from the applicant.
// An existing one is linked to the application instead. A replay of the same
// application writes only the seed messages an earlier attempt did not.
func (s *ChatService) OpenForApplication(ctx context.Context, app events.ApplicationCreated) (domain.Conversation, error) {
	if err := app.Validate(); err != nil {
		return domain.Conversation{}, fmt.Errorf("application: %w", err)
	}

	c, created, err := s.repo.FindOrCreate(ctx, domain.ConversationSpec{
		RecruiterID:   app.RecruiterID,
		JobSeekerID:   app.JobSeekerID,
		JobID:         app.JobID,
		ApplicationID: app.ApplicationID,
		Subject:       "Regarding your application for " + app.JobTitle,
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("find or create conversation: %w", err)
	}

	seed := []domain.NewMessage{{
		ConversationID: c.ID,
		SenderID:       app.RecruiterID,
		ReceiverID:     app.JobSeekerID,
		Type:           domain.MessageSystem,
		Content: fmt.Sprintf("Hello %s! Thank you for applying for the %s position. "+
			"This chat is for communication regarding your application.", app.SeekerFirstName, app.JobTitle),
	}}
	if app.CoverLetter != "" {
		seed = append(seed, domain.NewMessage{
			ConversationID: c.ID,
			SenderID:       app.JobSeekerID,
			ReceiverID:     app.RecruiterID,
			Type:           domain.MessageText,
			Content:        "Application cover letter: " + preview(app.CoverLetter, coverLetterPreview),
		})
	}

	pending := seed
	if !created {
		pending = nil
		// a replay after a failed seed resumes where the last attempt stopped
		if c.ApplicationID == app.ApplicationID {
			if pending, err = s.unseeded(ctx, c.ID, seed); err != nil {
				return domain.Conversation{}, fmt.Errorf("inspect seed messages: %w", err)
			}
		}
		if len(pending) == 0 {
			if err := s.repo.LinkApplication(ctx, c.ID, app.ApplicationID, app.JobID); err != nil {
				return domain.Conversation{}, fmt.Errorf("link application: %w", err)
			}
			s.logger.Infow("application linked to existing conversation",
				"conversation_id", c.ID, "application_id", app.ApplicationID)
			return s.repo.GetConversation(ctx, c.ID)
		}
	} else {
		s.events.Publish(ctx, events.Event{
			Type:           events.ConversationCreated,
			ConversationID: c.ID,
			ActorID:        app.RecruiterID,
			At:             c.CreatedAt,
		})
	}

	for _, nm := range pending {
		m, err := s.repo.AppendMessage(ctx, nm)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("seed message: %w", err)
		}
		metrics.MessagesPersisted.WithLabelValues(string(m.Type)).Inc()
		p := s.serialize(ctx, []domain.Message{m}, "")[0]
		s.out.Publish(ctx, c.ID, protocol.MessageEvent(p))
		s.events.Publish(ctx, events.Event{
			Type:           events.MessageCreated,
			ConversationID: c.ID,
			ActorID:        m.SenderID,
			MessageID:      m.ID,
			At:             m.CreatedAt,
		})
	}

	s.logger.Infow("conversation opened for application",
		"conversation_id", c.ID, "application_id", app.ApplicationID, "messages", len(pending))
	return s.repo.GetConversation(ctx, c.ID)
}

// unseeded returns the tail of seed not yet written to the conversation, or
// nil when the conversation holds anything other than a prefix of seed.
func (s *ChatService) unseeded(ctx context.Context, convID string, seed []domain.NewMessage) ([]domain.NewMessage, error) {
	msgs, err := s.repo.ListMessages(ctx, convID, time.Time{}, len(seed)+1)
	if err != nil {
		return nil, err
	}
	if len(msgs) > len(seed) {
		return nil, nil
	}
	for i, m := range msgs {
		if m.SenderID != seed[i].SenderID || m.Content != seed[i].Content {
			return nil, nil
		}
	}
	return seed[len(msgs):], nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
