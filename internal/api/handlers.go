package api

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/jobboard-chat/internal/auth"
	"github.com/fathima-sithara/jobboard-chat/internal/domain"
	"github.com/fathima-sithara/jobboard-chat/internal/events"
	"github.com/fathima-sithara/jobboard-chat/internal/service"
)

var validate = validator.New()

func bind(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	return validate.Struct(req)
}

func (s *Server) identity(c *fiber.Ctx) (domain.Identity, error) {
	_, id, err := s.chat.Verify(c.UserContext(), auth.PrincipalFrom(c), c.Params("id"))
	return id, err
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	views, err := s.chat.Conversations(c.UserContext(), auth.PrincipalFrom(c), c.QueryBool("archived", false))
	if err != nil {
		return err
	}
	return c.JSON(views)
}

func (s *Server) unreadCount(c *fiber.Ctx) error {
	n, err := s.chat.TotalUnread(c.UserContext(), auth.PrincipalFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"unread_count": n})
}

type createConversationReq struct {
	RecruiterID   string `json:"recruiter_id" validate:"required"`
	JobSeekerID   string `json:"job_seeker_id" validate:"required,nefield=RecruiterID"`
	Subject       string `json:"subject" validate:"max=255"`
	JobID         string `json:"job_id"`
	ApplicationID string `json:"application_id"`
}

func (s *Server) createConversation(c *fiber.Ctx) error {
	var req createConversationReq
	if err := bind(c, &req); err != nil {
		return err
	}
	view, created, err := s.chat.StartConversation(c.UserContext(), auth.PrincipalFrom(c), domain.ConversationSpec{
		RecruiterID:   req.RecruiterID,
		JobSeekerID:   req.JobSeekerID,
		JobID:         req.JobID,
		ApplicationID: req.ApplicationID,
		Subject:       req.Subject,
	})
	if err != nil {
		return err
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(view)
}

func (s *Server) getConversation(c *fiber.Ctx) error {
	view, err := s.chat.Conversation(c.UserContext(), auth.PrincipalFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (s *Server) updateConversation(c *fiber.Ctx) error {
	var flags domain.ConversationFlags
	if err := c.BodyParser(&flags); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	view, err := s.chat.SetFlags(c.UserContext(), auth.PrincipalFrom(c), c.Params("id"), flags)
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (s *Server) setArchived(c *fiber.Ctx, archived bool) error {
	_, err := s.chat.SetFlags(c.UserContext(), auth.PrincipalFrom(c), c.Params("id"), domain.ConversationFlags{IsArchived: &archived})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "success", "is_archived": archived})
}

func (s *Server) archive(c *fiber.Ctx) error { return s.setArchived(c, true) }

func (s *Server) restore(c *fiber.Ctx) error { return s.setArchived(c, false) }

func (s *Server) markAllRead(c *fiber.Ctx) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}
	n, err := s.chat.MarkAllRead(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"status":          "success",
		"marked":          n,
		"unread_count":    0,
		"conversation_id": id.ConversationID,
	})
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}
	var before time.Time
	if raw := c.Query("before"); raw != "" {
		if before, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "before must be an RFC 3339 timestamp")
		}
	}
	msgs, err := s.chat.History(c.UserContext(), id, before, c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

func (s *Server) getMessage(c *fiber.Ctx) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}
	msg, err := s.chat.GetMessage(c.UserContext(), id, c.Params("message_id"))
	if err != nil {
		return err
	}
	return c.JSON(msg)
}

type attachmentReq struct {
	FileKey  string `json:"file_key" validate:"required"`
	FileName string `json:"file_name" validate:"required"`
	FileSize int64  `json:"file_size" validate:"gt=0"`
	FileType string `json:"file_type"`
}

type sendMessageReq struct {
	Content     string          `json:"content" validate:"max=10000"`
	MessageType string          `json:"message_type" validate:"omitempty,oneof=text interview offer document system"`
	Attachments []attachmentReq `json:"attachments" validate:"max=10,dive"`
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}
	var req sendMessageReq
	if err := bind(c, &req); err != nil {
		return err
	}
	in := service.SendInput{Content: req.Content, Type: domain.MessageType(req.MessageType)}
	for _, a := range req.Attachments {
		in.Attachments = append(in.Attachments, domain.Attachment{
			FileKey: a.FileKey, FileName: a.FileName, FileSize: a.FileSize, FileType: a.FileType,
		})
	}
	msg, err := s.chat.SendMessage(c.UserContext(), id, in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

type typingReq struct {
	IsTyping bool `json:"is_typing"`
}

func (s *Server) setTyping(c *fiber.Ctx) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}
	var req typingReq
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.chat.SetTyping(c.UserContext(), id, req.IsTyping); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "typing indicator updated"})
}

func (s *Server) getTyping(c *fiber.Ctx) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}
	active, err := s.chat.ActiveTyping(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"typing": active})
}

func (s *Server) userStatus(c *fiber.Ctx) error {
	st, err := s.status.Status(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(st)
}

type usersStatusReq struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1,max=200,dive,required"`
}

func (s *Server) usersStatus(c *fiber.Ctx) error {
	var req usersStatusReq
	if err := bind(c, &req); err != nil {
		return err
	}
	statuses, err := s.status.Statuses(c.UserContext(), req.UserIDs)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"statuses": statuses})
}

func (s *Server) openForApplication(c *fiber.Ctx) error {
	var req events.ApplicationCreated
	if err := bind(c, &req); err != nil {
		return err
	}
	conv, err := s.chat.OpenForApplication(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(conv)
}
