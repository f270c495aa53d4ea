// Package rbac answers whether the current principal may perform an action.
package rbac

import (
	"context"
	"strings"
)

// PermissionStore lists the permissions granted to a user.
type PermissionStore interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// Service orchestrates RBAC checks.
type Service struct {
	store PermissionStore
}

// NewService constructs a Service backed by the provided store.
func NewService(store PermissionStore) *Service {
	return &Service{store: store}
}

// EffectivePermissions returns deduplicated lower-case permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.store.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(rows))
	perms := make([]string, 0, len(rows))
	for _, p := range rows {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		perms = append(perms, p)
	}
	return perms, nil
}

// CanPerform reports whether the user holds the permission for action.
func (s *Service) CanPerform(ctx context.Context, userID int64, action string) (bool, error) {
	granted, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return hasAllPermissions(granted, normalizePermissions([]string{action})), nil
}
