package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/tyust/tyust-client/internal/domain/session"
	"github.com/tyust/tyust-client/internal/domain/shared"
	"github.com/tyust/tyust-client/internal/infrastructure/cache"
	"github.com/tyust/tyust-client/internal/infrastructure/storage"
)

// failingStore wraps a MemoryStore and fails Set for one key.
type failingStore struct {
	*storage.MemoryStore
	failKey string
}

var errDisk = errors.New("disk full")

func (s *failingStore) Set(ctx context.Context, key, value string) error {
	if key == s.failKey {
		return errDisk
	}
	return s.MemoryStore.Set(ctx, key, value)
}

// failingCache fails every invalidation.
type failingCache struct{ calls int }

func (c *failingCache) InvalidateAll(context.Context) error {
	c.calls++
	return errDisk
}

func newTestManager() (*Manager, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return NewManager(store, cache.New(store, nil), nil), store
}

// allKeys lists every key a session or the entity cache writes.
func allKeys() []domain.Key {
	keys := []domain.Key{domain.KeyToken, domain.KeyRememberedAccount}
	keys = append(keys, domain.IdentityKeys...)
	return append(keys, cacheKeys()...)
}

func cacheKeys() []domain.Key {
	var keys []domain.Key
	for _, kind := range cache.Kinds() {
		key, _ := kind.Key()
		keys = append(keys, key)
	}
	return keys
}

func seedSession(t *testing.T, ctx context.Context, m *Manager, store storage.Store) {
	t.Helper()
	require.NoError(t, m.SetSession(ctx, "tok-1", domain.Identity{
		StudentID: "2021001",
		Name:      "张三",
		Class:     "软件2101",
		AvatarURL: "/uploads/a.png",
	}))
	require.NoError(t, m.RememberAccount(ctx, domain.RememberedAccount{LoginID: "2021001", Password: "pw"}))
	for _, k := range cacheKeys() {
		require.NoError(t, store.Set(ctx, k.String(), `[]`))
	}
}

func TestManager_SetSessionAndIdentity(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	assert.False(t, m.HasCredential(ctx))
	assert.Equal(t, "", m.Credential(ctx))

	require.NoError(t, m.SetSession(ctx, "tok-1", domain.Identity{StudentID: "2021001", Name: "张三"}))

	assert.True(t, m.HasCredential(ctx))
	assert.Equal(t, "tok-1", m.Credential(ctx))

	id := m.Identity(ctx)
	assert.Equal(t, "2021001", id.StudentID)
	assert.Equal(t, "张三", id.Name)
	assert.Equal(t, domain.DefaultClass, id.Class)
}

func TestManager_SetSession_EmptyCredential(t *testing.T) {
	m, _ := newTestManager()
	err := m.SetSession(context.Background(), "", domain.Identity{})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestManager_IdentityDefaults(t *testing.T) {
	m, _ := newTestManager()
	id := m.Identity(context.Background())
	assert.Equal(t, domain.DefaultName, id.Name)
	assert.Equal(t, domain.DefaultClass, id.Class)
	assert.Empty(t, id.StudentID)
	assert.Empty(t, id.AvatarURL)
}

func TestManager_SetSession_PartialWrite(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: storage.NewMemoryStore(), failKey: domain.KeyName.String()}
	m := NewManager(store, cache.New(store, nil), nil)

	err := m.SetSession(ctx, "tok-1", domain.Identity{StudentID: "2021001", Name: "张三", Class: "软件2101"})
	require.ErrorIs(t, err, errDisk)

	// keys before the failing one are already persisted
	assert.Equal(t, "tok-1", m.Credential(ctx))
	assert.Equal(t, "2021001", m.Identity(ctx).StudentID)
	_, ok, _ := store.Get(ctx, domain.KeyClass.String())
	assert.False(t, ok)
}

func TestManager_ClearSession_PreserveAccount(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager()
	seedSession(t, ctx, m, store)

	require.NoError(t, m.ClearSession(ctx, true))

	assert.False(t, m.HasCredential(ctx))
	for _, k := range append([]domain.Key{domain.KeyStudentID, domain.KeyName, domain.KeyClass}, cacheKeys()...) {
		_, ok, err := store.Get(ctx, k.String())
		require.NoError(t, err)
		assert.False(t, ok, "%s should be removed", k)
	}

	assert.Equal(t, domain.RememberedAccount{LoginID: "2021001", Password: "pw"}, m.RememberedAccount(ctx))
	avatar, ok, _ := store.Get(ctx, domain.KeyAvatarURL.String())
	assert.True(t, ok)
	assert.Equal(t, "/uploads/a.png", avatar)
}

func TestManager_ClearSession_Full(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager()
	seedSession(t, ctx, m, store)

	require.NoError(t, m.ClearSession(ctx, false))

	for _, k := range allKeys() {
		_, ok, err := store.Get(ctx, k.String())
		require.NoError(t, err)
		assert.False(t, ok, "%s should be removed", k)
	}
	assert.True(t, m.RememberedAccount(ctx).Empty())
}

func TestManager_ClearSession_CacheFailureStillClearsCredential(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	caches := &failingCache{}
	m := NewManager(store, caches, nil)
	require.NoError(t, m.SetSession(ctx, "tok-1", domain.Identity{StudentID: "2021001"}))

	err := m.ClearSession(ctx, true)
	assert.ErrorIs(t, err, errDisk)
	assert.Equal(t, 1, caches.calls)
	assert.False(t, m.HasCredential(ctx))
}

func TestManager_Reset(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager()
	seedSession(t, ctx, m, store)
	require.NoError(t, store.Set(ctx, "legacyFlag", "1"))

	require.NoError(t, m.Reset(ctx))

	for _, k := range append(allKeys(), "legacyFlag") {
		_, ok, err := store.Get(ctx, k.String())
		require.NoError(t, err)
		assert.False(t, ok, "%s should be removed", k)
	}
}

func TestManager_ClearSession_Idempotent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	require.NoError(t, m.ClearSession(ctx, true))
	require.NoError(t, m.ClearSession(ctx, false))
}

func TestManager_RememberedAccount(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager()

	assert.True(t, m.RememberedAccount(ctx).Empty())

	require.NoError(t, m.RememberAccount(ctx, domain.RememberedAccount{LoginID: "2021001", Password: "pw"}))
	raw, _, _ := store.Get(ctx, domain.KeyRememberedAccount.String())
	assert.JSONEq(t, `{"stuId":"2021001","password":"pw"}`, raw)

	require.NoError(t, m.ForgetAccount(ctx))
	assert.True(t, m.RememberedAccount(ctx).Empty())

	require.NoError(t, store.Set(ctx, domain.KeyRememberedAccount.String(), "{not json"))
	assert.True(t, m.RememberedAccount(ctx).Empty())
}

func TestManager_UpdateIdentity(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	require.NoError(t, m.SetSession(ctx, "tok-1", domain.Identity{StudentID: "1"}))

	require.NoError(t, m.UpdateIdentity(ctx, domain.Identity{StudentID: "1", Name: "李四", Class: "计科2102"}))

	assert.Equal(t, "tok-1", m.Credential(ctx))
	assert.Equal(t, "李四", m.Identity(ctx).Name)
	assert.Equal(t, "计科2102", m.Identity(ctx).Class)
}

func TestManager_SetSession_KeepsAvatarWhenEmpty(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager()
	seedSession(t, ctx, m, store)
	require.NoError(t, m.ClearSession(ctx, true))

	require.NoError(t, m.SetSession(ctx, "tok-2", domain.Identity{StudentID: "2021001", Name: "张三"}))
	assert.Equal(t, "/uploads/a.png", m.Identity(ctx).AvatarURL)

	require.NoError(t, m.UpdateIdentity(ctx, domain.Identity{Class: "软件2102"}))
	id := m.Identity(ctx)
	assert.Equal(t, "张三", id.Name, "empty fields do not overwrite")
	assert.Equal(t, "软件2102", id.Class)
}
