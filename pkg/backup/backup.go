// Package backup defines the interface for exporting and importing a
// branch index.
package backup

import (
	"context"
	"io"
)

// BackupManager handles backup and restore of the branch index.
type BackupManager interface {
	// BackupData writes every stored repository map to writer.
	BackupData(ctx context.Context, writer io.Writer) error

	// RestoreData reads a backup and merges it into the index.
	RestoreData(ctx context.Context, reader io.Reader) error

	// GetBackupStatus returns the current backup status.
	GetBackupStatus(ctx context.Context) (BackupStatus, error)
}

// BackupStatus represents the status of backup operations.
type BackupStatus struct {
	// LastBackup is the Unix timestamp of the last successful backup.
	LastBackup int64

	// LastBackupSize is the compressed size of the last backup in bytes.
	LastBackupSize int64

	// LastRestoredRecords counts the records written by the last restore.
	LastRestoredRecords int

	// BackupInProgress indicates if a backup or restore is running.
	BackupInProgress bool

	// Progress is the percentage complete (0-100) if a backup is in progress.
	Progress float64
}
