package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/libsync-api/internal/models"
)

func TestLocalLockerSerialisesSameLibrary(t *testing.T) {
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), libA)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, libA)
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock()

	again, err := locker.Lock(context.Background(), libA)
	require.NoError(t, err)
	again()
}

func TestLocalLockerIndependentLibraries(t *testing.T) {
	locker := NewLocalLocker()
	unlockA, err := locker.Lock(context.Background(), libA)
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := locker.Lock(ctx, models.GroupLibrary(1))
	require.NoError(t, err)
	unlockB()
}

func TestMemoryLoginSessionExpiry(t *testing.T) {
	repo := NewMemoryLoginSessionRepository()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	session := &models.LoginSession{Token: "tok", Status: models.LoginSessionPending, ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, repo.Save(context.Background(), session))

	got, err := repo.Get(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, models.LoginSessionPending, got.Status)

	now = now.Add(2 * time.Minute)
	_, err = repo.Get(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrNotFound)
}
