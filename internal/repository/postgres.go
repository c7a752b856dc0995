package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fathima-sithara/jobboard-chat/internal/domain"
)

type conversationRow struct {
	ID                string            `gorm:"primaryKey;type:varchar(36)"`
	RecruiterID       string            `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_pair"`
	JobSeekerID       string            `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_pair;index"`
	JobID             string            `gorm:"type:varchar(64)"`
	ApplicationID     string            `gorm:"type:varchar(64)"`
	Subject           string            `gorm:"type:varchar(255)"`
	IsArchived        bool              `gorm:"not null;default:false"`
	IsPinned          bool              `gorm:"not null;default:false"`
	IsMuted           bool              `gorm:"not null;default:false"`
	UnreadByRecruiter int               `gorm:"not null;default:0;check:chk_unread_recruiter,unread_by_recruiter >= 0"`
	UnreadByJobSeeker int               `gorm:"not null;default:0;check:chk_unread_job_seeker,unread_by_job_seeker >= 0"`
	LastMessageAt     *time.Time        `gorm:"index"`
	Metadata          map[string]string `gorm:"type:jsonb;serializer:json"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const statusRead = string(domain.StatusRead)

func (conversationRow) TableName() string { return "chat_conversations" }

type messageRow struct {
	ID             string          `gorm:"primaryKey;type:varchar(36)"`
	ConversationID string          `gorm:"type:varchar(36);not null;index:idx_message_conv_created,priority:1"`
	SenderID       string          `gorm:"type:varchar(64);not null;check:chk_sender_receiver,sender_id <> receiver_id"`
	ReceiverID     string          `gorm:"type:varchar(64);not null;index"`
	Content        string          `gorm:"type:text"`
	Type           string          `gorm:"type:varchar(20);not null"`
	Status         string          `gorm:"type:varchar(20);not null"`
	CreatedAt      time.Time       `gorm:"index:idx_message_conv_created,priority:2"`
	ReadAt         *time.Time
	Attachments    []attachmentRow `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

func (messageRow) TableName() string { return "chat_messages" }

type attachmentRow struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	MessageID  string `gorm:"type:varchar(36);not null;index"`
	FileKey    string `gorm:"type:varchar(512);not null"`
	FileName   string `gorm:"type:varchar(255);not null"`
	FileSize   int64
	FileType   string `gorm:"type:varchar(100)"`
	UploadedAt time.Time
}

func (attachmentRow) TableName() string { return "chat_message_attachments" }

type typingRow struct {
	ConversationID string `gorm:"primaryKey;type:varchar(36)"`
	UserID         string `gorm:"primaryKey;type:varchar(64)"`
	IsTyping       bool
	LastTypingAt   time.Time
}

func (typingRow) TableName() string { return "chat_typing_indicators" }

type userRow struct {
	ID           string `gorm:"primaryKey;type:varchar(64)"`
	FirstName    string
	LastName     string
	Email        string
	Role         string `gorm:"type:varchar(20)"`
	LastActivity *time.Time
}

func (userRow) TableName() string { return "chat_users" }

// Migrate creates or updates the chat tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&conversationRow{}, &messageRow{}, &attachmentRow{}, &typingRow{}, &userRow{})
}

// PostgresStore is the relational backend. Counter changes are SQL
// expressions evaluated by the database, and every multi-row write locks the
// conversation row first.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func unreadColumn(c conversationRow, userID string) string {
	if userID == c.RecruiterID {
		return "unread_by_recruiter"
	}
	return "unread_by_job_seeker"
}

func rowNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

func (r *PostgresStore) FindOrCreate(ctx context.Context, spec domain.ConversationSpec) (domain.Conversation, bool, error) {
	if err := checkSpec(spec); err != nil {
		return domain.Conversation{}, false, err
	}
	now := time.Now().UTC()
	row := conversationRow{
		ID:            uuid.NewString(),
		RecruiterID:   spec.RecruiterID,
		JobSeekerID:   spec.JobSeekerID,
		JobID:         spec.JobID,
		ApplicationID: spec.ApplicationID,
		Subject:       spec.Subject,
		Metadata:      spec.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "recruiter_id"}, {Name: "job_seeker_id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return domain.Conversation{}, false, fmt.Errorf("insert conversation: %w", res.Error)
	}
	var got conversationRow
	if err := r.db.WithContext(ctx).
		Where("recruiter_id = ? AND job_seeker_id = ?", spec.RecruiterID, spec.JobSeekerID).
		First(&got).Error; err != nil {
		return domain.Conversation{}, false, rowNotFound(err)
	}
	return got.toDomain(), res.RowsAffected == 1, nil
}

func (r *PostgresStore) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	var row conversationRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", conversationID).Error; err != nil {
		return domain.Conversation{}, rowNotFound(err)
	}
	return row.toDomain(), nil
}

func (r *PostgresStore) ListConversations(ctx context.Context, userID string, archived bool) ([]domain.Conversation, error) {
	var rows []conversationRow
	err := r.db.WithContext(ctx).
		Where("(recruiter_id = ? OR job_seeker_id = ?) AND is_archived = ?", userID, userID, archived).
		Order("last_message_at DESC NULLS LAST").Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Conversation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *PostgresStore) LinkApplication(ctx context.Context, conversationID, applicationID, jobID string) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if applicationID != "" {
		updates["application_id"] = applicationID
	}
	if jobID != "" {
		updates["job_id"] = jobID
	}
	res := r.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", conversationID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresStore) SetFlags(ctx context.Context, conversationID string, flags domain.ConversationFlags) (domain.Conversation, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if flags.IsArchived != nil {
		updates["is_archived"] = *flags.IsArchived
	}
	if flags.IsPinned != nil {
		updates["is_pinned"] = *flags.IsPinned
	}
	if flags.IsMuted != nil {
		updates["is_muted"] = *flags.IsMuted
	}
	res := r.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", conversationID).Updates(updates)
	if res.Error != nil {
		return domain.Conversation{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Conversation{}, domain.ErrNotFound
	}
	return r.GetConversation(ctx, conversationID)
}

func lockConversation(tx *gorm.DB, conversationID string) (conversationRow, error) {
	var c conversationRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, "id = ?", conversationID).Error
	return c, rowNotFound(err)
}

func (r *PostgresStore) AppendMessage(ctx context.Context, nm domain.NewMessage) (domain.Message, error) {
	if err := nm.Check(); err != nil {
		return domain.Message{}, err
	}
	var out messageRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockConversation(tx, nm.ConversationID)
		if err != nil {
			return err
		}
		if err := checkParticipants(c.toDomain(), nm); err != nil {
			return err
		}
		now := time.Now().UTC()
		out = messageRow{
			ID:             uuid.NewString(),
			ConversationID: nm.ConversationID,
			SenderID:       nm.SenderID,
			ReceiverID:     nm.ReceiverID,
			Content:        nm.Content,
			Type:           string(nm.Type),
			Status:         string(domain.StatusDelivered),
			CreatedAt:      now,
		}
		for _, a := range stampAttachments(nm.Attachments, now) {
			out.Attachments = append(out.Attachments, attachmentRow{
				ID: a.ID, MessageID: out.ID, FileKey: a.FileKey, FileName: a.FileName,
				FileSize: a.FileSize, FileType: a.FileType, UploadedAt: a.UploadedAt,
			})
		}
		if err := tx.Create(&out).Error; err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		col := unreadColumn(c, nm.ReceiverID)
		return tx.Model(&conversationRow{}).Where("id = ?", c.ID).Updates(map[string]any{
			col:               gorm.Expr(col + " + 1"),
			"last_message_at": now,
			"updated_at":      now,
		}).Error
	})
	if err != nil {
		return domain.Message{}, err
	}
	return out.toDomain(), nil
}

func (r *PostgresStore) GetMessage(ctx context.Context, conversationID, messageID string) (domain.Message, error) {
	var row messageRow
	err := r.db.WithContext(ctx).Preload("Attachments").
		First(&row, "id = ? AND conversation_id = ?", messageID, conversationID).Error
	if err != nil {
		return domain.Message{}, rowNotFound(err)
	}
	return row.toDomain(), nil
}

func (r *PostgresStore) ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]domain.Message, error) {
	q := r.db.WithContext(ctx).Preload("Attachments").Where("conversation_id = ?", conversationID)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}
	var rows []messageRow
	if err := q.Order("created_at DESC").Limit(clampLimit(limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Message, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = row.toDomain()
	}
	return out, nil
}

func (r *PostgresStore) MarkRead(ctx context.Context, conversationID, messageID, readerID string) (domain.Message, bool, error) {
	var (
		out        messageRow
		transition bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		transition = false
		// conversation row first
		c, err := lockConversation(tx, conversationID)
		if err != nil {
			return err
		}
		res := tx.Model(&messageRow{}).
			Where("id = ? AND conversation_id = ? AND receiver_id = ? AND status <> ?",
				messageID, conversationID, readerID, statusRead).
			Updates(map[string]any{"status": statusRead, "read_at": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			transition = true
			col := unreadColumn(c, readerID)
			if err := tx.Model(&conversationRow{}).Where("id = ?", c.ID).
				Update(col, gorm.Expr("GREATEST("+col+" - 1, 0)")).Error; err != nil {
				return err
			}
		}
		return rowNotFound(tx.Preload("Attachments").
			First(&out, "id = ? AND conversation_id = ?", messageID, conversationID).Error)
	})
	if err != nil {
		return domain.Message{}, false, err
	}
	return out.toDomain(), transition, nil
}

func (r *PostgresStore) MarkAllRead(ctx context.Context, conversationID, readerID string) (int, error) {
	var n int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockConversation(tx, conversationID)
		if err != nil {
			return err
		}
		if readerID != c.RecruiterID && readerID != c.JobSeekerID {
			return domain.ErrNotParticipant
		}
		now := time.Now().UTC()
		res := tx.Model(&messageRow{}).
			Where("conversation_id = ? AND receiver_id = ? AND status <> ?", c.ID, readerID, statusRead).
			Updates(map[string]any{"status": statusRead, "read_at": now})
		if res.Error != nil {
			return res.Error
		}
		n = int(res.RowsAffected)
		return tx.Model(&conversationRow{}).Where("id = ?", c.ID).Updates(map[string]any{
			unreadColumn(c, readerID): 0,
			"updated_at":              now,
		}).Error
	})
	return n, err
}

func (r *PostgresStore) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	c, err := r.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !c.HasParticipant(userID) {
		return 0, domain.ErrNotParticipant
	}
	return c.UnreadFor(userID), nil
}

func (r *PostgresStore) TotalUnread(ctx context.Context, userID string) (int, error) {
	var total int
	err := r.db.WithContext(ctx).Model(&conversationRow{}).
		Select("COALESCE(SUM(CASE WHEN recruiter_id = ? THEN unread_by_recruiter ELSE unread_by_job_seeker END), 0)", userID).
		Where("(recruiter_id = ? OR job_seeker_id = ?) AND is_archived = ?", userID, userID, false).
		Scan(&total).Error
	return total, err
}

func (r *PostgresStore) UpsertTyping(ctx context.Context, t domain.TypingIndicator) error {
	c, err := r.GetConversation(ctx, t.ConversationID)
	if err != nil {
		return err
	}
	if !c.HasParticipant(t.UserID) {
		return domain.ErrNotParticipant
	}
	if t.LastTypingAt.IsZero() {
		t.LastTypingAt = time.Now().UTC()
	}
	row := typingRow{ConversationID: t.ConversationID, UserID: t.UserID, IsTyping: t.IsTyping, LastTypingAt: t.LastTypingAt}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_typing", "last_typing_at"}),
	}).Create(&row).Error
}

func (r *PostgresStore) ActiveTyping(ctx context.Context, conversationID string, staleAfter time.Duration) ([]domain.TypingIndicator, error) {
	var rows []typingRow
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND is_typing = ? AND last_typing_at >= ?", conversationID, true, time.Now().UTC().Add(-staleAfter)).
		Order("user_id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.TypingIndicator, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.TypingIndicator{
			ConversationID: row.ConversationID, UserID: row.UserID, IsTyping: row.IsTyping, LastTypingAt: row.LastTypingAt,
		})
	}
	return out, nil
}

func (r *PostgresStore) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var row userRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", userID).Error; err != nil {
		return domain.User{}, rowNotFound(err)
	}
	return row.toDomain(), nil
}

func (r *PostgresStore) GetUsers(ctx context.Context, userIDs []string) (map[string]domain.User, error) {
	var rows []userRow
	if err := r.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]domain.User, len(rows))
	for _, row := range rows {
		out[row.ID] = row.toDomain()
	}
	return out, nil
}

func (r *PostgresStore) UpsertUser(ctx context.Context, u domain.User) error {
	cols := []string{"first_name", "last_name", "email", "role"}
	if u.LastActivity != nil {
		cols = append(cols, "last_activity")
	}
	row := userRow{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email, Role: string(u.Role), LastActivity: u.LastActivity}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(&row).Error
}

func (r *PostgresStore) TouchActivity(ctx context.Context, userID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", userID).Update("last_activity", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresStore) Close(context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (c conversationRow) toDomain() domain.Conversation {
	return domain.Conversation{
		ID:                c.ID,
		RecruiterID:       c.RecruiterID,
		JobSeekerID:       c.JobSeekerID,
		JobID:             c.JobID,
		ApplicationID:     c.ApplicationID,
		Subject:           c.Subject,
		IsArchived:        c.IsArchived,
		IsPinned:          c.IsPinned,
		IsMuted:           c.IsMuted,
		UnreadByRecruiter: c.UnreadByRecruiter,
		UnreadByJobSeeker: c.UnreadByJobSeeker,
		LastMessageAt:     c.LastMessageAt,
		Metadata:          c.Metadata,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func (m messageRow) toDomain() domain.Message {
	out := domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Type:           domain.MessageType(m.Type),
		Status:         domain.MessageStatus(m.Status),
		CreatedAt:      m.CreatedAt,
		ReadAt:         m.ReadAt,
		Attachments:    make([]domain.Attachment, 0, len(m.Attachments)),
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, domain.Attachment{
			ID: a.ID, FileKey: a.FileKey, FileName: a.FileName, FileSize: a.FileSize, FileType: a.FileType, UploadedAt: a.UploadedAt,
		})
	}
	return out
}

func (u userRow) toDomain() domain.User {
	return domain.User{
		ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email,
		Role: domain.Role(u.Role), LastActivity: u.LastActivity,
	}
}
