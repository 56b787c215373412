package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"svcdesk/internal/config"
	"svcdesk/internal/repo"
)

// AuthorizationError indicates the actor lacks a capability.
type AuthorizationError struct {
	Capability string
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("capability %s required", e.Capability)
}

// ErrInactiveUser is returned when resolving a deactivated user.
var ErrInactiveUser = errors.New("user is inactive")

// Actor is whoever triggers an engine operation.
type Actor interface {
	ActorID() int64
	HasCapability(capability string) bool
}

// Principal is an authenticated user with the capabilities of its role.
type Principal struct {
	UserID       int64    `json:"user_id"`
	Name         string   `json:"name,omitempty"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
	Source       string   `json:"source,omitempty"`
}

func (p Principal) ActorID() int64 { return p.UserID }

func (p Principal) HasCapability(capability string) bool {
	return slices.Contains(p.Capabilities, capability)
}

// Require fails with AuthorizationError unless actor holds capability.
func Require(actor Actor, capability string) error {
	if actor == nil || !actor.HasCapability(capability) {
		return AuthorizationError{Capability: capability}
	}
	return nil
}

// ActorIDPtr returns the id to record for actor, nil for system actions.
func ActorIDPtr(actor Actor) *int64 {
	if actor == nil {
		return nil
	}
	id := actor.ActorID()
	if id == 0 {
		return nil
	}
	return &id
}

// Service resolves users to principals using the configured role table.
type Service struct {
	Repo   repo.Repo
	Config *config.Config
}

func (s Service) Principal(ctx context.Context, userID int64) (Principal, error) {
	u, err := s.Repo.GetUser(ctx, nil, userID)
	if err != nil {
		return Principal{}, err
	}
	if !u.Active {
		return Principal{}, ErrInactiveUser
	}
	return Principal{
		UserID:       u.ID,
		Name:         u.Name,
		Role:         u.Role,
		Capabilities: slices.Clone(s.Config.Capabilities(u.Role)),
	}, nil
}

// PrincipalForAPIKey looks up the user owning a raw API key.
func (s Service) PrincipalForAPIKey(ctx context.Context, key string) (Principal, error) {
	apiKey, err := s.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	p, err := s.Principal(ctx, apiKey.UserID)
	if err != nil {
		return Principal{}, err
	}
	p.Source = "api_key"
	return p, nil
}
