package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
)

func TestRolePolicy_DropKeepsOrderAndCountsDropped(t *testing.T) {
	p := DefaultRolePolicy()
	kept, dropped, err := p.Apply([]domain.ChatMessage{
		{Role: "system", Content: "s"},
		{Role: "User", Content: "u1"},
		{Role: "assistant", Content: "a1"},
		{Role: "tool", Content: "t"},
		{Role: " user ", Content: "u2"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, dropped)
	require.Equal(t, []domain.ChatMessage{
		{Role: "user", Content: "u1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "u2"},
	}, kept)
}

func TestRolePolicy_Reject(t *testing.T) {
	p := RolePolicy{Accepted: []string{"user"}, Mode: RoleModeReject}
	_, _, err := p.Apply([]domain.ChatMessage{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "yo"}})
	uerr := expectCode(t, err, ErrorValidation, "role_not_accepted")
	require.Contains(t, uerr.Detail, "entry 1")
}

func TestRolePolicy_CustomAcceptedSet(t *testing.T) {
	p := RolePolicy{Accepted: []string{" System ", "user", ""}}.normalized()
	require.Equal(t, []string{"system", "user"}, p.Accepted)
	require.Equal(t, RoleModeDrop, p.Mode)

	kept, dropped, err := p.Apply([]domain.ChatMessage{{Role: "system", Content: "s"}, {Role: "assistant", Content: "a"}})
	require.NoError(t, err)
	require.Equal(t, 1, dropped)
	require.Equal(t, "system", kept[0].Role)
}

func TestParseRoleMode(t *testing.T) {
	m, err := ParseRoleMode(" Reject ")
	require.NoError(t, err)
	require.Equal(t, RoleModeReject, m)

	m, err = ParseRoleMode("drop")
	require.NoError(t, err)
	require.Equal(t, RoleModeDrop, m)

	_, err = ParseRoleMode("forward")
	require.Error(t, err)
}
