package repository

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openPostgres truncates the chat tables of the database named by
// CHAT_TEST_POSTGRES_DSN, so point it at a scratch database.
func openPostgres(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv("CHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHAT_TEST_POSTGRES_DSN not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(20)

	require.NoError(t, Migrate(db))
	require.NoError(t, db.Exec("TRUNCATE chat_message_attachments, chat_messages, chat_typing_indicators, chat_conversations, chat_users CASCADE").Error)

	s := NewPostgresStore(db)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}
