package database

import (
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	require.NoError(t, InitDB(filepath.Join(t.TempDir(), "test.db")))
	t.Cleanup(func() { CloseDB() })
}

// backdateLock rewrites the lease timestamp so the lease looks older
// than it is.
func backdateLock(t *testing.T, age time.Duration) {
	t.Helper()
	stamp := time.Now().UTC().Add(-age).Format(time.RFC3339Nano)
	_, err := DB.Exec(`UPDATE bot_lock SET locked_at = ? WHERE id = ?;`, stamp, lockID)
	require.NoError(t, err)
}

func lockOwner(t *testing.T) (bool, string) {
	t.Helper()
	var isLocked bool
	var owner string
	err := DB.QueryRow(`SELECT is_locked, COALESCE(owner_id, '') FROM bot_lock WHERE id = ?;`, lockID).
		Scan(&isLocked, &owner)
	require.NoError(t, err)
	return isLocked, owner
}

func TestAcquireLockExcludesSecondOwner(t *testing.T) {
	setupTestDB(t)

	acquired, err := AcquireLock("instance-a")
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = AcquireLock("instance-b")
	require.NoError(t, err)
	assert.False(t, acquired)

	locked, owner := lockOwner(t)
	assert.True(t, locked)
	assert.Equal(t, "instance-a", owner)
}

func TestAcquireLockIsIdempotentForOwner(t *testing.T) {
	setupTestDB(t)

	acquired, err := AcquireLock("instance-a")
	require.NoError(t, err)
	require.True(t, acquired)

	// The holder re-acquiring refreshes its own lease.
	acquired, err = AcquireLock("instance-a")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestAcquireLockTakesOverExpiredLease(t *testing.T) {
	setupTestDB(t)

	acquired, err := AcquireLock("instance-a")
	require.NoError(t, err)
	require.True(t, acquired)

	backdateLock(t, LockTimeout+time.Second)

	acquired, err = AcquireLock("instance-b")
	require.NoError(t, err)
	assert.True(t, acquired)

	_, owner := lockOwner(t)
	assert.Equal(t, "instance-b", owner)
}

func TestAcquireLockRespectsLiveLease(t *testing.T) {
	setupTestDB(t)

	acquired, err := AcquireLock("instance-a")
	require.NoError(t, err)
	require.True(t, acquired)

	backdateLock(t, LockTimeout-5*time.Second)

	acquired, err = AcquireLock("instance-b")
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestReleaseLockBySupersededOwnerIsNoOp(t *testing.T) {
	setupTestDB(t)

	acquired, err := AcquireLock("instance-a")
	require.NoError(t, err)
	require.True(t, acquired)

	// instance-a stalls past its lease, instance-b takes over.
	backdateLock(t, LockTimeout+time.Second)
	acquired, err = AcquireLock("instance-b")
	require.NoError(t, err)
	require.True(t, acquired)

	// The stale owner's release must not clear instance-b's lease.
	require.NoError(t, ReleaseLock("instance-a"))

	locked, owner := lockOwner(t)
	assert.True(t, locked)
	assert.Equal(t, "instance-b", owner)

	acquired, err = AcquireLock("instance-c")
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestReleaseLockFreesLease(t *testing.T) {
	setupTestDB(t)

	acquired, err := AcquireLock("instance-a")
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, ReleaseLock("instance-a"))

	acquired, err = AcquireLock("instance-b")
	require.NoError(t, err)
	assert.True(t, acquired)
}

// A second handle on the same file stands in for a second process:
// it does not share the in-process connection pool, so the two
// acquires race through sqlite itself.
func TestAcquireLockAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, InitDB(path))
	t.Cleanup(func() { CloseDB() })

	other, err := sql.Open("sqlite", dsn(path))
	require.NoError(t, err)
	other.SetMaxOpenConns(1)
	defer other.Close()

	handles := []*sql.DB{DB, other}
	results := make([]bool, len(handles))
	errs := make([]error, len(handles))

	var wg sync.WaitGroup
	for i, h := range handles {
		wg.Add(1)
		go func(i int, h *sql.DB) {
			defer wg.Done()
			results[i], errs[i] = acquireLock(h, string(rune('a'+i)))
		}(i, h)
	}
	wg.Wait()

	winners := 0
	for i := range handles {
		require.NoError(t, errs[i], "contention must resolve as a clean stand-down")
		if results[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestAcquireLockConcurrentSingleWinner(t *testing.T) {
	setupTestDB(t)

	const contenders = 8
	var wg sync.WaitGroup
	results := make([]bool, contenders)
	errs := make([]error, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = AcquireLock(string(rune('a' + i)))
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < contenders; i++ {
		require.NoError(t, errs[i])
		if results[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}
