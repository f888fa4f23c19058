package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	svc := NewService("test-secret")

	token, err := svc.IssueToken("user-1", RoleResponder, time.Hour)
	require.NoError(t, err)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, RoleResponder, claims.Role)
	assert.False(t, claims.Supervisor())
}

func TestSupervisorRole(t *testing.T) {
	svc := NewService("test-secret")

	token, err := svc.IssueToken("sup-1", RoleSupervisor, time.Hour)
	require.NoError(t, err)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.True(t, claims.Supervisor())
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewService("secret-a").IssueToken("user-1", RoleResponder, time.Hour)
	require.NoError(t, err)

	_, err = NewService("secret-b").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := NewService("test-secret").Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc := NewService("test-secret")
	token, err := svc.IssueToken("user-1", RoleResponder, -time.Minute)
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}
