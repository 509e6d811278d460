// Package session manages the locally persisted login state: credential,
// identity and the remembered account. It never talks to the network.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/tyust/tyust-client/internal/domain/session"
	"github.com/tyust/tyust-client/internal/domain/shared"
	"github.com/tyust/tyust-client/internal/infrastructure/storage"
	"github.com/tyust/tyust-client/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MANAGER
// ══════════════════════════════════════════════════════════════════════════════

// CacheInvalidator drops every cached server entity.
// *cache.EntityCache implements it.
type CacheInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// Manager reads and writes session state through a persistent store.
// It holds no state of its own, so a single Manager can be shared.
type Manager struct {
	store  storage.Store
	caches CacheInvalidator
	log    *logger.Logger
}

// NewManager creates a Manager over store. caches is invalidated whenever
// the session is cleared.
func NewManager(store storage.Store, caches CacheInvalidator, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		store:  store,
		caches: caches,
		log:    log.With(logger.Component("session")),
	}
}

// Credential returns the stored token, or "" when absent or unreadable.
func (m *Manager) Credential(ctx context.Context) string {
	return m.get(ctx, domain.KeyToken)
}

// HasCredential reports whether a non-empty token is stored.
func (m *Manager) HasCredential(ctx context.Context) bool {
	return m.Credential(ctx) != ""
}

// SetSession persists a new login. The token is written first, then the
// identity keys in order. An empty avatar keeps the one already stored.
// Writes are not atomic: on failure the keys written so far stay in place
// and the first error is returned.
func (m *Manager) SetSession(ctx context.Context, credential string, id domain.Identity) error {
	if credential == "" {
		return fmt.Errorf("set session: %w: empty credential", shared.ErrInvalidInput)
	}
	if err := m.store.Set(ctx, domain.KeyToken.String(), credential); err != nil {
		m.log.Error("session write failed", logger.String("key", domain.KeyToken.String()), logger.Err(err))
		return fmt.Errorf("set session %s: %w", domain.KeyToken, err)
	}

	for _, w := range identityWrites(id) {
		if w.key == domain.KeyAvatarURL && w.value == "" {
			continue
		}
		if err := m.store.Set(ctx, w.key.String(), w.value); err != nil {
			m.log.Error("session write failed", logger.String("key", w.key.String()), logger.Err(err))
			return fmt.Errorf("set session %s: %w", w.key, err)
		}
	}

	m.log.Info("session stored", logger.StudentID(id.StudentID))
	return nil
}

// UpdateIdentity overwrites the non-empty identity fields without touching
// the token.
func (m *Manager) UpdateIdentity(ctx context.Context, id domain.Identity) error {
	for _, w := range identityWrites(id) {
		if w.value == "" {
			continue
		}
		if err := m.store.Set(ctx, w.key.String(), w.value); err != nil {
			return fmt.Errorf("update identity %s: %w", w.key, err)
		}
	}
	return nil
}

type keyValue struct {
	key   domain.Key
	value string
}

// identityWrites follows the order of domain.IdentityKeys.
func identityWrites(id domain.Identity) []keyValue {
	values := map[domain.Key]string{
		domain.KeyStudentID: id.StudentID,
		domain.KeyName:      id.Name,
		domain.KeyClass:     id.Class,
		domain.KeyAvatarURL: id.AvatarURL,
	}
	writes := make([]keyValue, 0, len(domain.IdentityKeys))
	for _, key := range domain.IdentityKeys {
		writes = append(writes, keyValue{key: key, value: values[key]})
	}
	return writes
}

// Identity returns the stored profile with display defaults applied.
func (m *Manager) Identity(ctx context.Context) domain.Identity {
	return domain.Identity{
		StudentID: m.get(ctx, domain.KeyStudentID),
		Name:      m.get(ctx, domain.KeyName),
		Class:     m.get(ctx, domain.KeyClass),
		AvatarURL: m.get(ctx, domain.KeyAvatarURL),
	}.WithDefaults()
}

// ClearSession removes the credential, identity and every cached entity.
// With preserveRememberedAccount false the remembered login and the avatar
// are removed too. Every key is attempted; the errors are joined.
func (m *Manager) ClearSession(ctx context.Context, preserveRememberedAccount bool) error {
	keys := []domain.Key{domain.KeyToken, domain.KeyStudentID, domain.KeyName, domain.KeyClass}
	if !preserveRememberedAccount {
		keys = append(keys, domain.KeyRememberedAccount, domain.KeyAvatarURL)
	}

	var errs []error
	for _, key := range keys {
		if err := m.store.Remove(ctx, key.String()); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	if err := m.caches.InvalidateAll(ctx); err != nil {
		errs = append(errs, err)
	}

	m.log.Info("session cleared", logger.Bool("kept_account", preserveRememberedAccount))
	return errors.Join(errs...)
}

// Reset wipes everything this client keeps in the store, including keys
// written by older releases that no session operation knows about.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("reset local state: %w", err)
	}
	m.log.Info("local state wiped")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REMEMBERED ACCOUNT
// ══════════════════════════════════════════════════════════════════════════════

// RememberAccount saves the login for the next sign-in form.
func (m *Manager) RememberAccount(ctx context.Context, acc domain.RememberedAccount) error {
	raw, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("encode remembered account: %w", err)
	}
	if err := m.store.Set(ctx, domain.KeyRememberedAccount.String(), string(raw)); err != nil {
		return fmt.Errorf("remember account: %w", err)
	}
	return nil
}

// RememberedAccount returns the saved login, or an empty one. A corrupt
// entry reads as empty.
func (m *Manager) RememberedAccount(ctx context.Context) domain.RememberedAccount {
	raw := m.get(ctx, domain.KeyRememberedAccount)
	if raw == "" {
		return domain.RememberedAccount{}
	}
	var acc domain.RememberedAccount
	if err := json.Unmarshal([]byte(raw), &acc); err != nil {
		m.log.Warn("remembered account unreadable", logger.Err(err))
		return domain.RememberedAccount{}
	}
	return acc
}

// ForgetAccount drops the saved login.
func (m *Manager) ForgetAccount(ctx context.Context) error {
	if err := m.store.Remove(ctx, domain.KeyRememberedAccount.String()); err != nil {
		return fmt.Errorf("forget account: %w", err)
	}
	return nil
}

func (m *Manager) get(ctx context.Context, key domain.Key) string {
	v, ok, err := m.store.Get(ctx, key.String())
	if err != nil {
		m.log.Warn("session read failed", logger.String("key", key.String()), logger.Err(err))
		return ""
	}
	if !ok {
		return ""
	}
	return v
}
