package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateToken(t *testing.T) {
	token, err := IssueToken("telegram", "s3cret", time.Hour, time.Now())
	require.NoError(t, err)

	claims, err := ValidateToken(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "telegram", claims.Frontend)
	assert.Equal(t, "telegram", claims.Subject)
}

func TestValidateToken_Rejects(t *testing.T) {
	valid, err := IssueToken("telegram", "s3cret", time.Hour, time.Now())
	require.NoError(t, err)
	expired, err := IssueToken("telegram", "s3cret", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", valid, "other"},
		{"expired", expired, "s3cret"},
		{"garbage", "not-a-token", "s3cret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateToken(tt.token, tt.secret)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestIssueToken_EmptySecret(t *testing.T) {
	_, err := IssueToken("telegram", "", time.Hour, time.Now())
	assert.Error(t, err)
}
