// Package roles defines the permission oracle consulted before gated roster
// operations. The oracle is read-only; role membership is managed elsewhere.
package roles

import (
	"context"
	"strings"
	"sync"
)

// CaptainRole is the default role identifier gating onboard and offboard.
const CaptainRole = "captain"

// Oracle answers whether a principal holds a role.
type Oracle interface {
	HasRole(ctx context.Context, principal, role string) (bool, error)
}

// Static is an Oracle backed by a fixed in-process allowlist per role.
// Suitable for local deployments and tests.
type Static struct {
	mu      sync.RWMutex
	holders map[string]map[string]struct{} // role -> principal set
}

var _ Oracle = (*Static)(nil)

// NewStatic builds a static oracle. Holders maps a role to a comma-separated
// principal list, the same shape the configuration file carries.
func NewStatic(holders map[string]string) *Static {
	s := &Static{holders: make(map[string]map[string]struct{})}
	for role, raw := range holders {
		s.holders[role] = parseCSVSet(raw)
	}
	return s
}

// Grant adds a principal to a role.
func (s *Static) Grant(principal, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.holders[role]
	if !ok {
		set = make(map[string]struct{})
		s.holders[role] = set
	}
	set[strings.TrimSpace(principal)] = struct{}{}
}

// Revoke removes a principal from a role.
func (s *Static) Revoke(principal, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.holders[role]; ok {
		delete(set, strings.TrimSpace(principal))
	}
}

func (s *Static) HasRole(_ context.Context, principal, role string) (bool, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.holders[role]
	if !ok {
		return false, nil
	}
	_, ok = set[principal]
	return ok, nil
}

func parseCSVSet(raw string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out[trimmed] = struct{}{}
	}
	return out
}
