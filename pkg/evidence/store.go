// Package evidence captures and indexes screenshot evidence for executed
// commands. Records live in an in-memory index backed by files on disk; the
// index self-heals when a backing file disappears, and a retention policy
// trims records by age and per-scope count.
package evidence

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/replay/pkg/config"
	"github.com/entrhq/replay/pkg/driver"
	"github.com/entrhq/replay/pkg/errdef"
	"github.com/entrhq/replay/pkg/logging"
)

// Record describes one captured screenshot.
type Record struct {
	ID         string            `json:"id"`
	ScopeKey   string            `json:"scopeKey"`
	Path       string            `json:"path"`
	Action     string            `json:"action"`
	Timestamp  time.Time         `json:"timestamp"`
	Size       int64             `json:"size"`
	Format     string            `json:"format"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	ExternalID string            `json:"externalId,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// BlobStore is the optional secondary store evidence files are handed to.
type BlobStore interface {
	Store(path string) (string, error)
}

// CleanupReport summarizes one retention sweep.
type CleanupReport struct {
	Deleted    int           `json:"deleted"`
	FreedBytes int64         `json:"freedBytes"`
	Errors     []string      `json:"errors,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Store is the screenshot/evidence store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	aliases map[string]string // external id -> internal id

	cfg  config.ScreenshotConfig
	blob BlobStore
	log  logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithBlobStore attaches a secondary blob store. Captured files are handed
// off after writing; the external id becomes the id returned to callers.
func WithBlobStore(blob BlobStore) Option {
	return func(s *Store) {
		s.blob = blob
	}
}

// NewStore creates an evidence store with the given capture configuration.
func NewStore(cfg config.ScreenshotConfig, log logging.Logger, opts ...Option) *Store {
	s := &Store{
		records: make(map[string]*Record),
		aliases: make(map[string]string),
		cfg:     cfg,
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capture takes a screenshot of page and records it. Returns an empty id
// without error when capture is disabled globally or for this action type.
// The returned id is the blob store's external id when hand-off succeeds,
// otherwise the internal record id.
func (s *Store) Capture(scopeKey, action string, page driver.Page, metadata map[string]string) (string, error) {
	if !s.cfg.CapturesAction(action) {
		return "", nil
	}
	if page == nil {
		return "", errdef.New(errdef.CodeScreenshotFailed, "no page handle available for capture").
			WithDetail("scopeKey", scopeKey).
			WithDetail("action", action)
	}

	if err := os.MkdirAll(s.cfg.Dir, 0o750); err != nil {
		return "", errdef.Wrap(errdef.CodeScreenshotFailed, err,
			fmt.Sprintf("failed to create evidence directory %s", s.cfg.Dir))
	}

	data, err := page.Screenshot(driver.ScreenshotOptions{
		Format:   s.cfg.Format,
		Quality:  s.cfg.Quality,
		FullPage: s.cfg.FullPage,
	})
	if err != nil {
		return "", errdef.Wrap(errdef.CodeScreenshotFailed, err, "screenshot capture failed").
			WithDetail("scopeKey", scopeKey).
			WithDetail("action", action)
	}

	now := time.Now()
	id := fmt.Sprintf("%s_%d_%s_%s",
		sanitizeScope(scopeKey), now.UnixMilli(), strings.ToLower(action), shortID())
	path := filepath.Join(s.cfg.Dir, id+"."+s.cfg.Format)

	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", errdef.Wrap(errdef.CodeScreenshotFailed, err,
			fmt.Sprintf("failed to write evidence file %s", path))
	}

	record := &Record{
		ID:        id,
		ScopeKey:  scopeKey,
		Path:      path,
		Action:    action,
		Timestamp: now,
		Size:      int64(len(data)),
		Format:    s.cfg.Format,
		Metadata:  metadata,
	}
	if info, statErr := os.Stat(path); statErr == nil {
		record.Size = info.Size()
	}
	if dims, _, decodeErr := image.DecodeConfig(bytes.NewReader(data)); decodeErr == nil {
		record.Width = dims.Width
		record.Height = dims.Height
	}

	returnedID := id
	if s.blob != nil {
		externalID, blobErr := s.blob.Store(path)
		if blobErr != nil {
			// Hand-off is best effort; the internal record stands alone.
			s.log.Warnf("blob store hand-off failed for %s, falling back to internal id: %v", id, blobErr)
		} else {
			record.ExternalID = externalID
			returnedID = externalID
		}
	}

	s.mu.Lock()
	s.records[id] = record
	if record.ExternalID != "" {
		s.aliases[record.ExternalID] = id
	}
	s.mu.Unlock()

	s.log.Debugf("captured evidence %s (%d bytes, %dx%d) for scope %s",
		id, record.Size, record.Width, record.Height, scopeKey)
	return returnedID, nil
}

// Get returns the record for id (internal or external). A record whose
// backing file is gone is purged and reported as not found.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.RLock()
	record := s.resolveLocked(id)
	s.mu.RUnlock()

	if record == nil {
		return nil, errdef.Newf(errdef.CodeEvidenceNotFound, "no evidence record for id %q", id)
	}
	if _, err := os.Stat(record.Path); err != nil {
		s.purge(record)
		return nil, errdef.Newf(errdef.CodeEvidenceNotFound,
			"evidence file for %q is missing; stale record purged", id).
			WithDetail("path", record.Path)
	}
	return record, nil
}

// Path returns the on-disk path for id, self-healing like Get.
func (s *Store) Path(id string) (string, error) {
	record, err := s.Get(id)
	if err != nil {
		return "", err
	}
	return record.Path, nil
}

// List returns the scope's records sorted oldest first. Records with a
// missing backing file are purged and excluded. An empty scopeKey lists
// every scope.
func (s *Store) List(scopeKey string) []*Record {
	s.mu.RLock()
	candidates := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		if scopeKey == "" || record.ScopeKey == scopeKey {
			candidates = append(candidates, record)
		}
	}
	s.mu.RUnlock()

	alive := candidates[:0]
	for _, record := range candidates {
		if _, err := os.Stat(record.Path); err != nil {
			s.purge(record)
			continue
		}
		alive = append(alive, record)
	}
	sort.Slice(alive, func(i, j int) bool {
		return alive[i].Timestamp.Before(alive[j].Timestamp)
	})
	return alive
}

// Delete removes the record and its file. Deletion is best effort: a
// missing or undeletable file still removes the record from the index.
func (s *Store) Delete(id string) error {
	s.mu.RLock()
	record := s.resolveLocked(id)
	s.mu.RUnlock()

	if record == nil {
		return errdef.Newf(errdef.CodeEvidenceNotFound, "no evidence record for id %q", id)
	}
	if err := os.Remove(record.Path); err != nil && !os.IsNotExist(err) {
		s.log.Warnf("failed to remove evidence file %s: %v", record.Path, err)
	}
	s.purge(record)
	return nil
}

// purge drops a record and its alias from the index.
func (s *Store) purge(record *Record) {
	s.mu.Lock()
	delete(s.records, record.ID)
	if record.ExternalID != "" {
		delete(s.aliases, record.ExternalID)
	}
	s.mu.Unlock()
}

// resolveLocked maps an internal or external id to its record. Caller holds
// at least a read lock.
func (s *Store) resolveLocked(id string) *Record {
	if record, ok := s.records[id]; ok {
		return record
	}
	if internal, ok := s.aliases[id]; ok {
		return s.records[internal]
	}
	return nil
}

func shortID() string {
	return strings.SplitN(uuid.New().String(), "-", 2)[0]
}

// sanitizeScope maps the caller-supplied scope key onto a filename-safe
// component. Scope keys are opaque to callers, so evidence ids must never
// let one steer the file path out of the evidence directory.
func sanitizeScope(scopeKey string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		}
		return '-'
	}, scopeKey)
	if sanitized == "" {
		return "scope"
	}
	return sanitized
}
