package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dukerupert/familytree/internal/model"
	"github.com/dukerupert/familytree/internal/store"
)

const defaultInterval = 5 * time.Minute

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

func (c S3Config) enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Config holds archive manager configuration.
type Config struct {
	S3            S3Config
	Passphrase    string
	Interval      time.Duration
	RetentionDays int
}

// State represents the archive manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current archive manager status.
type Status struct {
	State       State      `json:"state"`
	LastArchive *time.Time `json:"last_archive,omitempty"`
	Error       string     `json:"error,omitempty"`
	InProgress  bool       `json:"in_progress"`
}

// StatusCallback is called whenever the archive state changes.
type StatusCallback func(Status)

// Recorder receives the outcome of every upload attempt.
type Recorder interface {
	ObserveArchive(status model.ArchiveStatus)
}

// Manager copies local backup files to S3-compatible storage and applies the
// optional retention policy. Local backups are only removed by retention.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	status   Status
	callback StatusCallback
	recorder Recorder

	files  *store.FileStore
	ledger *store.ArchiveStore
	client s3Client
	logger *slog.Logger

	sweepMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a new archive manager.
func NewManager(cfg Config, files *store.FileStore, ledger *store.ArchiveStore, callback StatusCallback, recorder Recorder, logger *slog.Logger) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:      cfg,
		files:    files,
		ledger:   ledger,
		callback: callback,
		recorder: recorder,
		logger:   logger,
		status:   Status{State: StateDisabled},
	}

	if cfg.S3.enabled() {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}

	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Start begins the periodic archive and retention loop. It is a no-op when
// neither uploads nor retention are configured.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.client == nil && m.cfg.RetentionDays <= 0 {
		m.mu.Unlock()
		return
	}
	if m.done != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	interval := m.cfg.Interval
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the archive loop.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current archive status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(s)
	}
}

func (m *Manager) tick(ctx context.Context) {
	if n, err := m.Sweep(ctx); err != nil {
		m.logger.Error("archive sweep failed", "error", err)
	} else if n > 0 {
		m.logger.Info("archived backups", "count", n)
	}

	m.mu.RLock()
	retention := m.cfg.RetentionDays
	m.mu.RUnlock()
	if retention > 0 {
		if err := m.Cleanup(ctx, retention); err != nil {
			m.logger.Error("archive cleanup failed", "error", err)
		}
	}
}

// Sweep uploads every local backup that has no completed archive record and
// returns how many were uploaded.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	prefix := m.cfg.S3.Prefix
	passphrase := m.cfg.Passphrase
	m.mu.RUnlock()

	if client == nil {
		return 0, nil
	}

	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	backups, err := m.files.Backups()
	if err != nil {
		return 0, fmt.Errorf("list backups: %w", err)
	}

	var pending []store.BackupFile
	records := make(map[string]*model.Archive)
	for _, b := range backups {
		rec, err := m.ledger.GetByFilename(b.Name)
		if err != nil {
			return 0, err
		}
		if rec != nil && rec.Status == model.ArchiveStatusCompleted {
			continue
		}
		pending = append(pending, b)
		records[b.Name] = rec
	}
	if len(pending) == 0 {
		return 0, nil
	}

	m.setStatus(Status{State: StateRunning, InProgress: true})

	uploaded := 0
	var lastErr error
	// Oldest first so the remote copy fills in chronologically.
	for i := len(pending) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		b := pending[i]
		if err := m.archiveOne(ctx, client, bucket, prefix, passphrase, b, records[b.Name]); err != nil {
			m.logger.Warn("archive upload failed", "backup", b.Name, "error", err)
			lastErr = err
			continue
		}
		uploaded++
	}

	if lastErr != nil {
		m.setStatus(Status{State: StateError, Error: lastErr.Error()})
		return uploaded, lastErr
	}

	now := time.Now().UTC()
	m.setStatus(Status{State: StateIdle, LastArchive: &now})
	return uploaded, nil
}

func (m *Manager) archiveOne(ctx context.Context, client s3Client, bucket, prefix, passphrase string, b store.BackupFile, rec *model.Archive) error {
	encrypted := passphrase != ""
	key := objectKey(prefix, b.Name, encrypted)

	switch {
	case rec == nil:
		var err error
		rec, err = m.ledger.Create(b.Name, key, encrypted)
		if err != nil {
			return fmt.Errorf("create archive record: %w", err)
		}
	case rec.ObjectKey != key || rec.Encrypted != encrypted:
		// A retried row follows the current passphrase setting.
		if err := m.ledger.UpdateTarget(rec.ID, key, encrypted); err != nil {
			return err
		}
		rec.ObjectKey = key
		rec.Encrypted = encrypted
	}
	m.setRecordStatus(rec.ID, model.ArchiveStatusUploading, "")

	fail := func(err error) error {
		m.setRecordStatus(rec.ID, model.ArchiveStatusFailed, err.Error())
		m.observe(model.ArchiveStatusFailed)
		return err
	}

	data, err := os.ReadFile(b.Path)
	if err != nil {
		return fail(fmt.Errorf("read backup: %w", err))
	}

	if encrypted {
		salt, err := GenerateSalt()
		if err != nil {
			return fail(err)
		}
		data, err = Encrypt(data, passphrase, salt)
		if err != nil {
			return fail(fmt.Errorf("encrypt: %w", err))
		}
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(rec.ObjectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fail(fmt.Errorf("upload to s3: %w", err))
	}

	if err := m.ledger.UpdateCompleted(rec.ID, int64(len(data))); err != nil {
		return err
	}
	m.observe(model.ArchiveStatusCompleted)
	return nil
}

func (m *Manager) setRecordStatus(id int64, status model.ArchiveStatus, msg string) {
	if err := m.ledger.UpdateStatus(id, status, msg); err != nil {
		m.logger.Warn("failed to update archive record", "id", id, "status", status, "error", err)
	}
}

func (m *Manager) observe(status model.ArchiveStatus) {
	if m.recorder != nil {
		m.recorder.ObserveArchive(status)
	}
}

// Fetch downloads an archived backup and returns its plaintext contents.
func (m *Manager) Fetch(ctx context.Context, filename string) ([]byte, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	passphrase := m.cfg.Passphrase
	m.mu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("archive not configured")
	}

	rec, err := m.ledger.GetByFilename(filename)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Status != model.ArchiveStatusCompleted {
		return nil, fmt.Errorf("archive %s not found", filename)
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(rec.ObjectKey),
	})
	if err != nil {
		return nil, fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read archive body: %w", err)
	}

	if !rec.Encrypted {
		return data, nil
	}
	if passphrase == "" {
		return nil, fmt.Errorf("archive %s is encrypted and no passphrase is configured", filename)
	}
	return Decrypt(data, passphrase)
}

// Cleanup deletes archive records, remote objects and local backup files
// older than the retention period.
func (m *Manager) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}

	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()

	before := time.Now().UTC().AddDate(0, 0, -retentionDays)

	if client != nil {
		keys, err := m.ledger.DeleteOlderThan(before)
		if err != nil {
			return fmt.Errorf("delete old archives: %w", err)
		}

		for _, key := range keys {
			if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			}); err != nil {
				m.logger.Warn("failed to delete archived object", "key", key, "error", err)
			}
		}
	}

	removed, err := m.files.PruneBackups(before)
	if err != nil {
		return fmt.Errorf("prune local backups: %w", err)
	}
	if len(removed) > 0 {
		m.logger.Info("pruned local backups", "count", len(removed))
	}
	return nil
}

func objectKey(prefix, name string, encrypted bool) string {
	if encrypted {
		name += ".enc"
	}
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
