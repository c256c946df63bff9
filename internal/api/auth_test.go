package api

import (
	"context"
	"testing"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   int64
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), 42),
			userId:   42,
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %d", tc.userId)
		})
	}
}

func Test_extractUserIdFromToken(t *testing.T) {
	app := &ChatRelayApp{signingKey: []byte("test-signing-key")}
	other := &ChatRelayApp{signingKey: []byte("another-key")}

	token, err := app.createJwtForSession(types.User{Id: 7, Username: "alice"}, time.Minute)
	assert.NoError(t, err)

	userId, err := app.extractUserIdFromToken(token)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), userId)

	_, err = other.extractUserIdFromToken(token)
	assert.Error(t, err, "tokens signed with another key are rejected")

	expired, err := app.createJwtForSession(types.User{Id: 7}, -time.Minute)
	assert.NoError(t, err)
	_, err = app.extractUserIdFromToken(expired)
	assert.Error(t, err, "expired tokens are rejected")
}

func Test_verifyPassword(t *testing.T) {
	hash, err := hashPassword("password123")
	assert.NoError(t, err)
	assert.True(t, verifyPassword(hash, "password123"))
	assert.False(t, verifyPassword(hash, "wrong-password"))
}
