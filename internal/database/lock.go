package database

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// The lease lives in a single well-known row. A lease older than
// LockTimeout is considered abandoned regardless of is_locked, so a
// crashed owner never needs manual cleanup.
const lockID = 1
const LockTimeout = 90 * time.Second

// AcquireLock attempts to take the single-worker lease for ownerID.
// It returns (false, nil) when a live competitor holds the lease;
// any storage error is returned to the caller, which must not proceed
// with side-effecting work.
func AcquireLock(ownerID string) (bool, error) {
	return acquireLock(DB, ownerID)
}

// The transaction opens in immediate mode (see dsn), so two processes
// racing for the lease serialize at BEGIN and the loser observes the
// winner's committed row instead of a busy error.
func acquireLock(db *sql.DB, ownerID string) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, errors.Wrap(err, "could not begin lock transaction")
	}
	defer tx.Rollback()

	var isLocked bool
	var lockedAt, owner sql.NullString
	row := tx.QueryRow(`SELECT is_locked, locked_at, owner_id FROM bot_lock WHERE id = ?;`, lockID)
	if err := row.Scan(&isLocked, &lockedAt, &owner); err != nil {
		return false, errors.Wrap(err, "could not read lock row")
	}

	if isLocked && !lockExpired(lockedAt) && owner.Valid && owner.String != ownerID {
		log.Warnf("Active lock held by instance %s, this instance will stand down", owner.String)
		return false, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(`UPDATE bot_lock SET is_locked = 1, locked_at = ?, owner_id = ? WHERE id = ?;`,
		now, ownerID, lockID); err != nil {
		return false, errors.Wrap(err, "could not update lock row")
	}
	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "could not commit lock acquisition")
	}

	log.Infof("Run lock acquired by instance %s", ownerID)
	return true, nil
}

// ReleaseLock clears the lease only while ownerID still owns it. A
// release from a superseded owner is a no-op so it can never clobber
// a lease that has since been taken over.
func ReleaseLock(ownerID string) error {
	_, err := DB.Exec(`UPDATE bot_lock SET is_locked = 0 WHERE id = ? AND owner_id = ?;`, lockID, ownerID)
	if err != nil {
		return errors.Wrap(err, "could not release lock")
	}
	log.Infof("Run lock released by instance %s", ownerID)
	return nil
}

func lockExpired(lockedAt sql.NullString) bool {
	if !lockedAt.Valid {
		return true
	}
	t, err := time.Parse(time.RFC3339Nano, lockedAt.String)
	if err != nil {
		log.Warnf("Unparseable locked_at %q, treating lease as expired", lockedAt.String)
		return true
	}
	return time.Since(t) > LockTimeout
}
