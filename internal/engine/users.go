package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"svcdesk/internal/domain"
	"svcdesk/internal/engine/auth"
	"svcdesk/internal/repo"
)

func (e Engine) validateUser(in domain.UserInput) (domain.UserInput, error) {
	if e.Config == nil {
		return in, fmt.Errorf("config not loaded")
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Name == "" {
		return in, invalidf("name is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return in, invalidf("invalid email %q", in.Email)
	}
	if in.Role == "" {
		in.Role = e.Config.Requests.DefaultRole
	}
	if !e.Config.HasRole(in.Role) {
		return in, invalidf("unknown role %s", in.Role)
	}
	return in, nil
}

func (e Engine) CreateUser(ctx context.Context, actor auth.Actor, in domain.UserInput) (domain.User, error) {
	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return domain.User{}, err
	}
	return e.createUser(ctx, actor, in)
}

func (e Engine) createUser(ctx context.Context, actor auth.Actor, in domain.UserInput) (domain.User, error) {
	in, err := e.validateUser(in)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		Name:      in.Name,
		Email:     in.Email,
		Role:      in.Role,
		Active:    in.Active == nil || *in.Active,
		CreatedAt: e.timestamp(),
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		id, err := e.Repo.InsertUser(ctx, tx, u)
		if err != nil {
			return uniqueAsInvalid(err, "email %s already registered", u.Email)
		}
		u.ID = id
		return e.appendAudit(ctx, tx, actor, domain.ModuleUsers, domain.ActionCreate, "users", id,
			fmt.Sprintf("Usuario %s creado", u.Email), changes{"email": u.Email, "role": u.Role})
	})
	return u, err
}

// EnsureAdmin creates an administrator when the user table is empty. The
// audit entry carries no actor since no user exists yet.
func (e Engine) EnsureAdmin(ctx context.Context, name, email string) (domain.User, bool, error) {
	n, err := e.Repo.CountUsers(ctx)
	if err != nil {
		return domain.User{}, false, err
	}
	if n > 0 {
		return domain.User{}, false, nil
	}
	role := e.Config.AdminRole()
	if role == "" {
		return domain.User{}, false, fmt.Errorf("no role grants %s", domain.CapabilityAdministrator)
	}
	u, err := e.createUser(ctx, nil, domain.UserInput{Name: name, Email: email, Role: role})
	if err != nil {
		return domain.User{}, false, err
	}
	e.logger().Info("bootstrap administrator created", "user_id", u.ID, "email", u.Email, "role", role)
	return u, true, nil
}

func (e Engine) UpdateUser(ctx context.Context, actor auth.Actor, id int64, in domain.UserInput) (domain.User, error) {
	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return domain.User{}, err
	}
	in, err := e.validateUser(in)
	if err != nil {
		return domain.User{}, err
	}
	var u domain.User
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		before, err := e.Repo.GetUser(ctx, tx, id)
		if err != nil {
			return err
		}
		u = before
		u.Name = in.Name
		u.Email = in.Email
		u.Role = in.Role
		if in.Active != nil {
			u.Active = *in.Active
		}
		if actor.ActorID() == id && !e.Config.HasCapability(u.Role, domain.CapabilityAdministrator) {
			return invalidf("administrators cannot revoke their own %s capability", domain.CapabilityAdministrator)
		}
		if err := e.Repo.UpdateUser(ctx, tx, u); err != nil {
			return uniqueAsInvalid(err, "email %s already registered", u.Email)
		}
		ch := changes{}
		ch.track("name", before.Name, u.Name)
		ch.track("email", before.Email, u.Email)
		ch.track("role", before.Role, u.Role)
		ch.track("active", before.Active, u.Active)
		return e.appendAudit(ctx, tx, actor, domain.ModuleUsers, domain.ActionUpdate, "users", id,
			fmt.Sprintf("Usuario %s actualizado", u.Email), ch)
	})
	return u, err
}

// DeleteUser removes a user without submitted requests.
func (e Engine) DeleteUser(ctx context.Context, actor auth.Actor, id int64) error {
	if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
		return err
	}
	if actor.ActorID() == id {
		return invalidf("administrators cannot delete themselves")
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		u, err := e.Repo.GetUser(ctx, tx, id)
		if err != nil {
			return err
		}
		n, err := e.Repo.CountRequestsByRequester(ctx, tx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("user %d has %d requests; deactivate instead: %w", id, n, repo.ErrConflict)
		}
		if err := e.appendAudit(ctx, tx, actor, domain.ModuleUsers, domain.ActionDelete, "users", id,
			fmt.Sprintf("Usuario %s eliminado", u.Email), nil); err != nil {
			return err
		}
		return e.Repo.DeleteUser(ctx, tx, id)
	})
}

// CreateAPIKey issues a key for userID and returns the raw secret once.
// Users may mint keys for themselves; administrators for anyone.
func (e Engine) CreateAPIKey(ctx context.Context, actor auth.Actor, userID int64, name string) (domain.APIKey, string, error) {
	if actor == nil || actor.ActorID() != userID {
		if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
			return domain.APIKey{}, "", err
		}
	}
	raw, err := newRawKey()
	if err != nil {
		return domain.APIKey{}, "", err
	}
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.timestamp(),
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetUser(ctx, tx, userID); err != nil {
			return err
		}
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.appendAudit(ctx, tx, actor, domain.ModuleUsers, domain.ActionCreate, "users", userID,
			fmt.Sprintf("Clave API %s emitida", key.ID), changes{"key_id": key.ID, "name": key.Name})
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}

// RevokeAPIKey deletes one of userID's keys.
func (e Engine) RevokeAPIKey(ctx context.Context, actor auth.Actor, userID int64, keyID string) error {
	if actor == nil || actor.ActorID() != userID {
		if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
			return err
		}
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteAPIKey(ctx, tx, userID, keyID); err != nil {
			return err
		}
		return e.appendAudit(ctx, tx, actor, domain.ModuleUsers, domain.ActionDelete, "users", userID,
			fmt.Sprintf("Clave API %s revocada", keyID), changes{"key_id": keyID})
	})
}

func newRawKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "svd_" + hex.EncodeToString(buf), nil
}
