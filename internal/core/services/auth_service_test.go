package services

import (
	"context"
	"testing"
	"time"

	"heartline/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour, 24*time.Hour)

	token, err := svc.GenerateToken("user-1", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("user-1"), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	svc := NewAuthService("secret-a", time.Hour, 24*time.Hour)
	other := NewAuthService("secret-b", time.Hour, 24*time.Hour)

	token, err := svc.GenerateToken("user-1", "alice")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_Expired(t *testing.T) {
	svc := NewAuthService("test-secret", -time.Minute, 24*time.Hour)

	token, err := svc.GenerateToken("user-1", "alice")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateToken_Garbage(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour, 24*time.Hour)

	_, err := svc.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshToken(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour, 24*time.Hour)

	token, err := svc.GenerateRefreshToken("user-1")
	require.NoError(t, err)

	claims, err := svc.ValidateRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("user-1"), claims.UserID)
	assert.Empty(t, claims.Username)
}

func TestGetUserFromContext(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour, 24*time.Hour)

	_, err := svc.GetUserFromContext(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)

	ctx := context.WithValue(context.Background(), "user_id", domain.UserID("user-1"))
	userID, err := svc.GetUserFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("user-1"), userID)
}
