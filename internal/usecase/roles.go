package usecase

import (
	"fmt"
	"strings"

	"chat-relay/internal/domain"
)

// RoleMode decides what happens to turn entries whose role is not accepted.
type RoleMode string

const (
	RoleModeDrop   RoleMode = "drop"
	RoleModeReject RoleMode = "reject"
)

// RolePolicy is the accepted-role set plus the drop-vs-reject rule applied
// before a turn is forwarded.
type RolePolicy struct {
	Accepted []string
	Mode     RoleMode
}

// DefaultRolePolicy forwards user and assistant entries and silently drops the rest.
func DefaultRolePolicy() RolePolicy {
	return RolePolicy{
		Accepted: []string{domain.RoleUser, domain.RoleAssistant},
		Mode:     RoleModeDrop,
	}
}

// ParseRoleMode accepts "drop" or "reject" in any case.
func ParseRoleMode(s string) (RoleMode, error) {
	switch RoleMode(strings.ToLower(strings.TrimSpace(s))) {
	case RoleModeDrop:
		return RoleModeDrop, nil
	case RoleModeReject:
		return RoleModeReject, nil
	}
	return "", fmt.Errorf("usecase: unknown role mode %q", s)
}

func (p RolePolicy) normalized() RolePolicy {
	def := DefaultRolePolicy()
	out := RolePolicy{Mode: p.Mode}
	if out.Mode == "" {
		out.Mode = def.Mode
	}
	for _, r := range p.Accepted {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			out.Accepted = append(out.Accepted, r)
		}
	}
	if len(out.Accepted) == 0 {
		out.Accepted = def.Accepted
	}
	return out
}

func (p RolePolicy) accepts(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	for _, r := range p.Accepted {
		if r == role {
			return true
		}
	}
	return false
}

// Apply returns the entries to forward, in their original order, and how many
// were dropped. Under RoleModeReject an unaccepted role is a validation error.
func (p RolePolicy) Apply(turn []domain.ChatMessage) ([]domain.ChatMessage, int, error) {
	kept := make([]domain.ChatMessage, 0, len(turn))
	dropped := 0
	for i, m := range turn {
		if p.accepts(m.Role) {
			kept = append(kept, domain.ChatMessage{
				Role:    strings.ToLower(strings.TrimSpace(m.Role)),
				Content: m.Content,
			})
			continue
		}
		if p.Mode == RoleModeReject {
			e := newError(ErrorValidation, "role_not_accepted", nil)
			e.Detail = fmt.Sprintf("entry %d has role %q", i, m.Role)
			return nil, 0, e
		}
		dropped++
	}
	return kept, dropped, nil
}

// validateTurn enforces a non-empty turn with non-blank content in every entry.
func validateTurn(turn []domain.ChatMessage) error {
	if len(turn) == 0 {
		return newError(ErrorValidation, "empty_turn", nil)
	}
	for i, m := range turn {
		if strings.TrimSpace(m.Content) == "" {
			e := newError(ErrorValidation, "empty_content", nil)
			e.Detail = fmt.Sprintf("entry %d has no content", i)
			return e
		}
	}
	return nil
}
