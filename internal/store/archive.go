package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/familytree/internal/model"
)

const archiveColumns = `id, filename, object_key, size_bytes, status, error_message, encrypted, started_at, completed_at, created_at, updated_at`

type ArchiveStore struct {
	db *sql.DB
}

func NewArchiveStore(db *sql.DB) *ArchiveStore {
	return &ArchiveStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArchive(row rowScanner) (*model.Archive, error) {
	var a model.Archive
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime
	if err := row.Scan(&a.ID, &a.Filename, &a.ObjectKey, &a.SizeBytes, &a.Status, &errMsg, &a.Encrypted, &startedAt, &completedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ErrorMessage = errMsg.String
	if startedAt.Valid {
		a.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	return &a, nil
}

func (s *ArchiveStore) Create(filename, objectKey string, encrypted bool) (*model.Archive, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO archives (filename, object_key, status, encrypted, started_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		filename, objectKey, model.ArchiveStatusPending, encrypted, now, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	id, _ := result.LastInsertId()
	return &model.Archive{
		ID:        id,
		Filename:  filename,
		ObjectKey: objectKey,
		Status:    model.ArchiveStatusPending,
		Encrypted: encrypted,
		StartedAt: &now,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *ArchiveStore) GetByFilename(filename string) (*model.Archive, error) {
	a, err := scanArchive(s.db.QueryRow(
		`SELECT `+archiveColumns+` FROM archives WHERE filename = ?`, filename,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get archive %s: %w", filename, err)
	}
	return a, nil
}

func (s *ArchiveStore) List(limit int) ([]model.Archive, error) {
	rows, err := s.db.Query(
		`SELECT `+archiveColumns+` FROM archives ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	defer rows.Close()

	var archives []model.Archive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archive: %w", err)
		}
		archives = append(archives, *a)
	}
	return archives, rows.Err()
}

func (s *ArchiveStore) UpdateStatus(id int64, status model.ArchiveStatus, errorMsg string) error {
	var errPtr *string
	if errorMsg != "" {
		errPtr = &errorMsg
	}
	_, err := s.db.Exec(
		`UPDATE archives SET status = ?, error_message = ? WHERE id = ?`,
		status, errPtr, id,
	)
	if err != nil {
		return fmt.Errorf("update archive status: %w", err)
	}
	return nil
}

// UpdateTarget changes where and how a record's backup is uploaded.
func (s *ArchiveStore) UpdateTarget(id int64, objectKey string, encrypted bool) error {
	_, err := s.db.Exec(
		`UPDATE archives SET object_key = ?, encrypted = ? WHERE id = ?`,
		objectKey, encrypted, id,
	)
	if err != nil {
		return fmt.Errorf("update archive target: %w", err)
	}
	return nil
}

func (s *ArchiveStore) UpdateCompleted(id, sizeBytes int64) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE archives SET status = ?, size_bytes = ?, error_message = NULL, completed_at = ? WHERE id = ?`,
		model.ArchiveStatusCompleted, sizeBytes, now, id,
	)
	if err != nil {
		return fmt.Errorf("update archive completed: %w", err)
	}
	return nil
}

// DeleteOlderThan deletes archive rows created before the cutoff and returns
// the object keys that were removed from the ledger.
func (s *ArchiveStore) DeleteOlderThan(before time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT object_key FROM archives WHERE created_at < ?`, before)
	if err != nil {
		return nil, fmt.Errorf("select old archives: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan object key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if _, err := s.db.Exec(`DELETE FROM archives WHERE created_at < ?`, before); err != nil {
		return nil, fmt.Errorf("delete old archives: %w", err)
	}
	return keys, nil
}

func (s *ArchiveStore) Count() (int64, error) {
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM archives`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count archives: %w", err)
	}
	return count, nil
}
