package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/subfetch/subfetch/internal/common"
	"github.com/subfetch/subfetch/internal/interfaces"
	"github.com/subfetch/subfetch/internal/models"
	storage "github.com/subfetch/subfetch/internal/storage/badger"
)

func newTestAuth(t *testing.T) (interfaces.AuthService, interfaces.UserStorage) {
	t.Helper()
	logger := arbor.NewLogger()

	db, err := storage.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir() + "/db"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := storage.NewUserStorage(db, logger)
	return NewService(users, logger), users
}

func TestResolveBearer(t *testing.T) {
	svc, users := newTestAuth(t)
	ctx := context.Background()

	user := &models.User{ID: "alice", Name: "alice", APIKey: "secret-key"}
	require.NoError(t, users.SaveUser(ctx, user))

	got, err := svc.ResolveBearer(ctx, "secret-key")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ID)
}

func TestResolveBearerRejectsBadCredentials(t *testing.T) {
	svc, users := newTestAuth(t)
	ctx := context.Background()

	require.NoError(t, users.SaveUser(ctx, &models.User{ID: "alice", Name: "alice", APIKey: "secret-key"}))

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"wrong token", "not-the-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ResolveBearer(ctx, tt.token)
			require.Error(t, err)
			assert.Equal(t, "UNAUTHORIZED", models.AsAPIError(err).Code)
		})
	}
}

func TestStreamTokenRoundTrip(t *testing.T) {
	svc, users := newTestAuth(t)
	ctx := context.Background()

	user := &models.User{ID: "alice", Name: "alice", APIKey: "secret-key"}
	require.NoError(t, users.SaveUser(ctx, user))

	token, err := svc.IssueStreamToken(ctx, user)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	got, err := svc.ResolveStreamToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ID)

	// Tokens are single-purpose but not single-use within their lifetime.
	_, err = svc.ResolveStreamToken(ctx, token)
	require.NoError(t, err)
}

func TestStreamTokensAreUnique(t *testing.T) {
	svc, users := newTestAuth(t)
	ctx := context.Background()

	user := &models.User{ID: "alice", Name: "alice"}
	require.NoError(t, users.SaveUser(ctx, user))

	first, err := svc.IssueStreamToken(ctx, user)
	require.NoError(t, err)
	second, err := svc.IssueStreamToken(ctx, user)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestResolveStreamTokenRejectsUnknown(t *testing.T) {
	svc, _ := newTestAuth(t)

	_, err := svc.ResolveStreamToken(context.Background(), "never-issued")
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", models.AsAPIError(err).Code)
}
