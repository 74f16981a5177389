package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const signingKey = "test-signing-key"

func TestIssueAndParse(t *testing.T) {
	token, expiresAt, err := Issue("user-1", RoleProfessor, "rollcall", signingKey, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := Parse(token, signingKey, "rollcall")
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, RoleProfessor, claims.Role)
	require.Equal(t, "rollcall", claims.Issuer)
}

func TestParseRejectsWrongKey(t *testing.T) {
	token, _, err := Issue("user-1", RoleStudent, "rollcall", signingKey, time.Hour)
	require.NoError(t, err)

	_, err = Parse(token, "some-other-key", "rollcall")
	require.Error(t, err)
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	token, _, err := Issue("user-1", RoleStudent, "other-service", signingKey, time.Hour)
	require.NoError(t, err)

	_, err = Parse(token, signingKey, "rollcall")
	require.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	token, _, err := Issue("user-1", RoleStudent, "rollcall", signingKey, -time.Minute)
	require.NoError(t, err)

	_, err = Parse(token, signingKey, "rollcall")
	require.Error(t, err)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not-a-token", signingKey, "rollcall")
	require.Error(t, err)
}
