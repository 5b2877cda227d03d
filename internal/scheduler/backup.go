package scheduler

import (
	"log/slog"
	"time"
)

// Backuper writes a timestamped copy of the ledger.
type Backuper interface {
	Backup(dir string, keep int, now time.Time) (string, error)
}

// LedgerBackup returns a job copying the ledger into dir, keeping the
// newest keep copies.
func LedgerBackup(b Backuper, dir string, keep int, schedule string) Job {
	return Job{
		Name:     "ledger-backup",
		Schedule: schedule,
		Run: func() error {
			path, err := b.Backup(dir, keep, time.Now())
			if err != nil {
				return err
			}
			if path != "" {
				slog.Info("ledger backed up", "path", path)
			}
			return nil
		},
	}
}
