// Package backup exports and imports the branch index as one compressed
// stream.
package backup

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz/lzma"

	"github.com/i5heu/branchpoints/internal/binaryCoder"
	"github.com/i5heu/branchpoints/pkg/backup"
)

var magic = [4]byte{'B', 'R', 'P', 'T'}

const formatVersion uint16 = 1

var ErrBadFormat = errors.New("backup: not a branch index backup")

// Index is the part of the branch index a backup reads and restores.
type Index interface {
	Repositories() ([]string, error)
	Entries(repositoryID string) ([]binaryCoder.Entry, error)
	PutAll(repositoryID string, entries []binaryCoder.Entry) error
}

// Manager implements backup.BackupManager over a branch index.
type Manager struct {
	index Index
	log   *logrus.Logger

	run    sync.Mutex // one backup or restore at a time
	mu     sync.Mutex
	status backup.BackupStatus
}

var _ backup.BackupManager = (*Manager)(nil)

func NewManager(index Index, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}
	return &Manager{index: index, log: log}
}

// BackupData writes every repository map to writer. The stream is lzma
// compressed and holds the magic, a format version, a repository count and
// then per repository its ID and its map in binaryCoder encoding.
func (m *Manager) BackupData(ctx context.Context, writer io.Writer) error {
	m.run.Lock()
	defer m.run.Unlock()

	m.begin()
	defer m.end()

	repos, err := m.index.Repositories()
	if err != nil {
		return fmt.Errorf("list repositories: %w", err)
	}
	sort.Strings(repos)

	cw := &countingWriter{w: writer}
	zw, err := lzma.NewWriter(cw)
	if err != nil {
		return fmt.Errorf("create lzma writer: %w", err)
	}

	var header bytes.Buffer
	header.Write(magic[:])
	_ = binary.Write(&header, binary.BigEndian, formatVersion)
	_ = binary.Write(&header, binary.BigEndian, uint32(len(repos)))
	if _, err := zw.Write(header.Bytes()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, repo := range repos {
		if err := ctx.Err(); err != nil {
			return err
		}

		entries, err := m.index.Entries(repo)
		if err != nil {
			return fmt.Errorf("read repository %q: %w", repo, err)
		}
		blob, err := binaryCoder.EncodeBranchMap(entries)
		if err != nil {
			return fmt.Errorf("encode repository %q: %w", repo, err)
		}

		var rec bytes.Buffer
		if err := binaryCoder.WriteString(&rec, repo); err != nil {
			return fmt.Errorf("encode repository id: %w", err)
		}
		_ = binary.Write(&rec, binary.BigEndian, uint32(len(blob)))
		rec.Write(blob)
		if _, err := zw.Write(rec.Bytes()); err != nil {
			return fmt.Errorf("write repository %q: %w", repo, err)
		}

		m.setProgress(float64(i+1) / float64(len(repos)) * 100)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("close lzma writer: %w", err)
	}

	m.mu.Lock()
	m.status.LastBackup = time.Now().Unix()
	m.status.LastBackupSize = cw.n
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"repositories": len(repos),
		"bytes":        cw.n,
	}).Info("Branch index backup written")
	return nil
}

// RestoreData reads a stream written by BackupData and puts every record
// into the index. Records already in the index are overwritten.
func (m *Manager) RestoreData(ctx context.Context, reader io.Reader) error {
	m.run.Lock()
	defer m.run.Unlock()

	m.begin()
	defer m.end()

	zr, err := lzma.NewReader(reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadFormat, err)
	}

	var head [4]byte
	if _, err := io.ReadFull(zr, head[:]); err != nil || head != magic {
		return ErrBadFormat
	}
	var version uint16
	if err := binary.Read(zr, binary.BigEndian, &version); err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if version != formatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadFormat, version)
	}
	var count uint32
	if err := binary.Read(zr, binary.BigEndian, &count); err != nil {
		return fmt.Errorf("read repository count: %w", err)
	}

	restored := 0
	for i := uint32(0); i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		repo, err := binaryCoder.ReadString(zr)
		if err != nil {
			return fmt.Errorf("read repository id: %w", err)
		}
		var size uint32
		if err := binary.Read(zr, binary.BigEndian, &size); err != nil {
			return fmt.Errorf("read repository %q: %w", repo, err)
		}
		blob := make([]byte, size)
		if _, err := io.ReadFull(zr, blob); err != nil {
			return fmt.Errorf("read repository %q: %w", repo, err)
		}
		entries, err := binaryCoder.DecodeBranchMap(blob)
		if err != nil {
			return fmt.Errorf("decode repository %q: %w", repo, err)
		}

		if len(entries) > 0 {
			if err := m.index.PutAll(repo, entries); err != nil {
				return fmt.Errorf("restore repository %q: %w", repo, err)
			}
		}
		restored += len(entries)

		m.setProgress(float64(i+1) / float64(count) * 100)
	}

	m.mu.Lock()
	m.status.LastRestoredRecords = restored
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"repositories": count,
		"records":      restored,
	}).Info("Branch index restored")
	return nil
}

// GetBackupStatus returns the current backup status.
func (m *Manager) GetBackupStatus(ctx context.Context) (backup.BackupStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, nil
}

func (m *Manager) begin() {
	m.mu.Lock()
	m.status.BackupInProgress = true
	m.status.Progress = 0
	m.mu.Unlock()
}

func (m *Manager) end() {
	m.mu.Lock()
	m.status.BackupInProgress = false
	m.mu.Unlock()
}

func (m *Manager) setProgress(p float64) {
	m.mu.Lock()
	m.status.Progress = p
	m.mu.Unlock()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
