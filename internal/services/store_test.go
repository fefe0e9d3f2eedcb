package services_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/footballpedia/internal/models"
	"github.com/MegaGrindStone/footballpedia/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type store interface {
	Conversations(ctx context.Context, userID string, order models.Order) ([]models.Conversation, error)
	AddConversation(ctx context.Context, conv models.Conversation) error
	DeleteConversation(ctx context.Context, id string) error
	Messages(ctx context.Context, conversationID string, order models.Order) ([]models.Message, error)
	AddMessage(ctx context.Context, msg models.Message) (string, error)
	AppendAssistantMessage(ctx context.Context, conversationID, userID, content string) error
}

func stores(t *testing.T) map[string]store {
	t.Helper()

	dir := t.TempDir()

	boltDB, err := services.NewBoltDB(filepath.Join(dir, "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = boltDB.Close() })

	sqlite, err := services.NewSQLite(filepath.Join(dir, "data", "store.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]store{
		"bolt":   boltDB,
		"sqlite": sqlite,
	}
}

func TestStoreConversations(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Add(-time.Hour)

			require.NoError(t, s.AddConversation(ctx, models.Conversation{ID: "c1", Title: "Messi", UserID: "u1", CreatedAt: base}))
			require.NoError(t, s.AddConversation(ctx, models.Conversation{ID: "c2", Title: "Offside", UserID: "u1", CreatedAt: base.Add(time.Minute)}))
			require.NoError(t, s.AddConversation(ctx, models.Conversation{ID: "c3", Title: "Other", UserID: "u2", CreatedAt: base.Add(2 * time.Minute)}))

			convs, err := s.Conversations(ctx, "u1", models.OrderDescending)
			require.NoError(t, err)
			require.Len(t, convs, 2)
			assert.Equal(t, "c2", convs[0].ID)
			assert.Equal(t, "c1", convs[1].ID)
			assert.Equal(t, "Messi", convs[1].Title)

			convs, err = s.Conversations(ctx, "", models.OrderAscending)
			require.NoError(t, err)
			require.Len(t, convs, 3)
			assert.Equal(t, "c1", convs[0].ID)
			assert.Equal(t, "c3", convs[2].ID)
		})
	}
}

func TestStoreMessages(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.AddConversation(ctx, models.Conversation{ID: "c1", Title: "Cup", UserID: "u1", CreatedAt: time.Now()}))

			base := time.Now()
			id, err := s.AddMessage(ctx, models.Message{
				ConversationID: "c1",
				UserID:         "u1",
				Role:           models.RoleUser,
				Content:        "Who won the 2018 World Cup?",
				CreatedAt:      base,
			})
			require.NoError(t, err)
			assert.NotEmpty(t, id)

			time.Sleep(time.Millisecond)
			require.NoError(t, s.AppendAssistantMessage(ctx, "c1", "u1", "France."))

			msgs, err := s.Messages(ctx, "c1", models.OrderAscending)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, models.RoleUser, msgs[0].Role)
			assert.Equal(t, id, msgs[0].ID)
			assert.Equal(t, models.RoleAssistant, msgs[1].Role)
			assert.Equal(t, "France.", msgs[1].Content)
			assert.Equal(t, "u1", msgs[1].UserID)
			assert.Equal(t, "c1", msgs[1].ConversationID)

			msgs, err = s.Messages(ctx, "c1", models.OrderDescending)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, models.RoleAssistant, msgs[0].Role)
		})
	}
}

func TestStoreMessageForUnknownConversation(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.AppendAssistantMessage(context.Background(), "missing", "u1", "text")
			assert.Error(t, err)
		})
	}
}

func TestStoreDeleteConversationCascades(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.AddConversation(ctx, models.Conversation{ID: "c1", Title: "a", CreatedAt: time.Now()}))
			require.NoError(t, s.AddConversation(ctx, models.Conversation{ID: "c2", Title: "b", CreatedAt: time.Now()}))
			require.NoError(t, s.AppendAssistantMessage(ctx, "c1", "", "one"))
			require.NoError(t, s.AppendAssistantMessage(ctx, "c2", "", "two"))

			require.NoError(t, s.DeleteConversation(ctx, "c1"))
			require.NoError(t, s.DeleteConversation(ctx, "never-existed"))

			convs, err := s.Conversations(ctx, "", models.OrderAscending)
			require.NoError(t, err)
			require.Len(t, convs, 1)
			assert.Equal(t, "c2", convs[0].ID)

			msgs, err := s.Messages(ctx, "c1", models.OrderAscending)
			require.NoError(t, err)
			assert.Empty(t, msgs)

			msgs, err = s.Messages(ctx, "c2", models.OrderAscending)
			require.NoError(t, err)
			assert.Len(t, msgs, 1)
		})
	}
}

func TestLocalConversations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	local, err := services.NewLocalConversations(path)
	require.NoError(t, err)

	convs, err := local.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, convs)

	now := time.Now().Round(0)
	want := []models.Conversation{
		{ID: "c2", Title: "Top scorers in Premier League", CreatedAt: now},
		{ID: "c1", Title: "Explain the offside rule", CreatedAt: now.Add(-time.Minute)},
	}
	require.NoError(t, local.Save(ctx, want))

	// Empty lists are not written.
	require.NoError(t, local.Save(ctx, nil))
	require.NoError(t, local.Close())

	local, err = services.NewLocalConversations(path)
	require.NoError(t, err)
	defer local.Close()

	got, err := local.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].ID)
	assert.Equal(t, "Explain the offside rule", got[1].Title)
	assert.True(t, want[0].CreatedAt.Equal(got[0].CreatedAt))
}
