package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"gym-coach-go/internal/config"
	"gym-coach-go/pkg/token"
)

func newTestAuth(t *testing.T) (ServiceAuthService, *token.JWTManager) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	jwtManager := token.NewJWTManager("test-secret", 1, 30)
	svc := NewServiceAuthService([]config.ServiceAccountConfig{
		{ClientID: "sync-job", SecretHash: string(hash), Scopes: []string{"rag:read", token.ScopeSync}},
	}, jwtManager)
	return svc, jwtManager
}

func TestIssueToken(t *testing.T) {
	svc, jwtManager := newTestAuth(t)
	tok, err := svc.IssueToken("sync-job", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.EqualValues(t, 1800, tok.ExpiresIn)

	claims, err := jwtManager.VerifyServiceToken(tok.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.HasScope(token.ScopeSync))
}

func TestIssueToken_RejectsBadCredentials(t *testing.T) {
	svc, _ := newTestAuth(t)
	_, err := svc.IssueToken("sync-job", "wrong")
	assert.ErrorIs(t, err, ErrInvalidClient)
	_, err = svc.IssueToken("nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidClient)
}
