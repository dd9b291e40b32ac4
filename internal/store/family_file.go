package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/familytree/internal/model"
)

// ErrInvalidStore is returned when the store file does not hold a JSON array.
var ErrInvalidStore = errors.New("store file is not a JSON array")

const maxBackupAttempts = 100

// BulkResult describes a completed bulk replace.
type BulkResult struct {
	Count      int
	BackupName string
}

// FileInfo is a point-in-time view of the store file.
type FileInfo struct {
	Path        string
	Exists      bool
	Size        int64
	RecordCount int
}

// BackupFile is one snapshot written next to the store file.
type BackupFile struct {
	Name      string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// FileStore keeps the family member list in a single JSON file. Backups are
// written to the same directory as <stem>.backup.<unix-millis><ext>.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Dir() string {
	return filepath.Dir(s.path)
}

func (s *FileStore) ReadRaw() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	return data, nil
}

func (s *FileStore) List() ([]model.FamilyMember, error) {
	data, err := s.ReadRaw()
	if err != nil {
		return nil, err
	}
	return decodeMembers(data)
}

// BulkReplace snapshots the current store file into a new backup and then
// overwrites the store with members. Each member is written as given, only
// re-indented. The backup is kept even if the final write fails. Calls are
// serialized within the process.
func (s *FileStore) BulkReplace(members []json.RawMessage) (*BulkResult, error) {
	if members == nil {
		members = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(members, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode members: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}

	backupName, err := s.writeBackup(current)
	if err != nil {
		return nil, err
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return nil, fmt.Errorf("write store: %w", err)
	}

	return &BulkResult{Count: len(members), BackupName: backupName}, nil
}

// Stat reports whether the store exists, its size and how many records it
// holds. A missing file is not an error.
func (s *FileStore) Stat() (*FileInfo, error) {
	info := &FileInfo{Path: s.path}

	fi, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return info, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat store: %w", err)
	}
	info.Exists = true
	info.Size = fi.Size()

	data, err := s.ReadRaw()
	if err != nil {
		return nil, err
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	info.RecordCount = len(records)
	return info, nil
}

// Backups lists the backup files next to the store, newest first.
func (s *FileStore) Backups() ([]BackupFile, error) {
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var backups []BackupFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		created, ok := s.parseBackupName(e.Name())
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat backup %s: %w", e.Name(), err)
		}
		backups = append(backups, BackupFile{
			Name:      e.Name(),
			Path:      filepath.Join(s.Dir(), e.Name()),
			Size:      fi.Size(),
			CreatedAt: created,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].Name > backups[j].Name
		}
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// PruneBackups removes backup files created before the cutoff and returns
// their names.
func (s *FileStore) PruneBackups(before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	backups, err := s.Backups()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, b := range backups {
		if !b.CreatedAt.Before(before) {
			continue
		}
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove backup %s: %w", b.Name, err)
		}
		removed = append(removed, b.Name)
	}
	return removed, nil
}

func (s *FileStore) writeBackup(data []byte) (string, error) {
	stamp := s.now().UnixMilli()
	for n := 0; n < maxBackupAttempts; n++ {
		name := s.backupName(stamp, n)
		f, err := os.OpenFile(filepath.Join(s.Dir(), name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create backup: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("write backup: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close backup: %w", err)
		}
		return name, nil
	}
	return "", fmt.Errorf("create backup: no free name for timestamp %d", stamp)
}

func (s *FileStore) stemExt() (string, string) {
	base := filepath.Base(s.path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = ".json"
	}
	return stem, ext
}

func (s *FileStore) backupName(stamp int64, n int) string {
	stem, ext := s.stemExt()
	if n == 0 {
		return fmt.Sprintf("%s.backup.%d%s", stem, stamp, ext)
	}
	return fmt.Sprintf("%s.backup.%d-%d%s", stem, stamp, n, ext)
}

func (s *FileStore) parseBackupName(name string) (time.Time, bool) {
	stem, ext := s.stemExt()
	prefix := stem + ".backup."
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
	if i := strings.IndexByte(stamp, '-'); i > 0 {
		stamp = stamp[:i]
	}
	ms, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func decodeMembers(data []byte) ([]model.FamilyMember, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrInvalidStore
	}
	var members []model.FamilyMember
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, fmt.Errorf("decode store: %w", err)
	}
	return members, nil
}

// writeFileAtomic replaces path via a temp file in the same directory so a
// crash mid-write leaves either the old or the new contents.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
