// Package store is the on-disk document repository. Reports are keyed by
// (entity code, fiscal year, report kind) and laid out as
//
//	<root>/<entity>/<year>/<entity>_<year>_<kind>.pdf
//	<root>/<entity>/<year>/<entity>_<year>_<kind>.txt
//	<root>/<entity>/<year>/<entity>_<year>_<kind>_metadata.json
//
// The layout is part of the storage contract: re-fetch detection depends on
// it staying stable.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/seenimoa/finreport/internal/infra"
	"github.com/seenimoa/finreport/pkg/models"
)

// Meta carries the source-side facts recorded alongside a binary.
type Meta struct {
	SourceURL   string
	ETag        string
	CompanyName string
	Title       string
	PublishedAt time.Time
}

// Store persists report binaries, text artifacts and records.
type Store struct {
	root   string
	fs     afero.Fs
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithFs replaces the filesystem (tests use afero.NewMemMapFs).
func WithFs(fs afero.Fs) Option {
	return func(s *Store) { s.fs = fs }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store rooted at dir.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		root:  filepath.Clean(dir),
		fs:    afero.NewOsFs(),
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = infra.LoggerOrDefault(s.logger).With("component", "store")
	return s
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// ── Paths ──

func (s *Store) dir(id models.ReportIdentity) string {
	return filepath.Join(s.root, id.EntityCode, strconv.Itoa(id.FiscalYear))
}

func (s *Store) base(id models.ReportIdentity) string {
	return fmt.Sprintf("%s_%d_%s", id.EntityCode, id.FiscalYear, id.Kind.Slug())
}

// BinaryPath returns where the document binary for id is stored.
func (s *Store) BinaryPath(id models.ReportIdentity) string {
	return filepath.Join(s.dir(id), s.base(id)+".pdf")
}

// TextPath returns where the extracted text for id is stored.
func (s *Store) TextPath(id models.ReportIdentity) string {
	return filepath.Join(s.dir(id), s.base(id)+".txt")
}

// MetadataPath returns where the record for id is stored.
func (s *Store) MetadataPath(id models.ReportIdentity) string {
	return filepath.Join(s.dir(id), s.base(id)+"_metadata.json")
}

// Checksum returns the hex sha256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ── Operations ──

// Put stores data for id. An identical checksum for an existing record is a
// no-op that returns the existing record. A different checksum replaces the
// binary and invalidates any previously extracted text.
func (s *Store) Put(id models.ReportIdentity, data []byte, meta Meta) (models.ReportRecord, error) {
	if err := id.Validate(); err != nil {
		return models.ReportRecord{}, err
	}
	unlock := s.lock(id)
	defer unlock()

	log := s.logger.With("report", id.Key())
	sum := Checksum(data)

	existing, err := s.get(id)
	switch {
	case err == nil && existing.Checksum == sum:
		if ok, _ := afero.Exists(s.fs, existing.BinaryPath); ok {
			log.Debug("unchanged binary, put is a no-op", "checksum", sum)
			return existing, nil
		}
	case err != nil && !errors.Is(err, models.ErrNotFound):
		return models.ReportRecord{}, err
	}

	rec := models.ReportRecord{
		Identity:    id,
		SourceURL:   meta.SourceURL,
		BinaryPath:  s.BinaryPath(id),
		FetchedAt:   s.now().UTC(),
		Checksum:    sum,
		Size:        int64(len(data)),
		ETag:        meta.ETag,
		CompanyName: meta.CompanyName,
		Title:       meta.Title,
		PublishedAt: meta.PublishedAt,
	}
	if err := s.publish(rec, data); err != nil {
		return models.ReportRecord{}, err
	}

	// Stale text goes only once the new record is committed.
	if existing.HasText() {
		if err := s.fs.Remove(existing.TextPath); err != nil && !os.IsNotExist(err) {
			log.Warn("could not remove stale text artifact", "path", existing.TextPath, "error", err)
		}
		log.Info("binary changed, text invalidated", "old_checksum", existing.Checksum, "checksum", sum)
	}

	log.Info("stored report", "bytes", rec.Size, "checksum", sum)
	return rec, nil
}

// Get returns the record for id, or ErrNotFound.
func (s *Store) Get(id models.ReportIdentity) (models.ReportRecord, error) {
	if err := id.Validate(); err != nil {
		return models.ReportRecord{}, err
	}
	return s.get(id)
}

func (s *Store) get(id models.ReportIdentity) (models.ReportRecord, error) {
	data, err := afero.ReadFile(s.fs, s.MetadataPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return models.ReportRecord{}, fmt.Errorf("%w: no stored report %s", models.ErrNotFound, id.Key())
		}
		return models.ReportRecord{}, fmt.Errorf("%w: read record %s: %v", models.ErrStorage, id.Key(), err)
	}
	var rec models.ReportRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.ReportRecord{}, fmt.Errorf("%w: decode record %s: %v", models.ErrStorage, id.Key(), err)
	}
	return rec, nil
}

// List returns stored records for entity with fromYear <= year <= toYear,
// newest year first. A zero bound is open.
func (s *Store) List(entity string, fromYear, toYear int) ([]models.ReportRecord, error) {
	entries, err := afero.ReadDir(s.fs, filepath.Join(s.root, entity))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list %s: %v", models.ErrStorage, entity, err)
	}

	var out []models.ReportRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		year, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		if (fromYear != 0 && year < fromYear) || (toYear != 0 && year > toYear) {
			continue
		}
		for _, kind := range models.AllKinds {
			id := models.ReportIdentity{EntityCode: entity, FiscalYear: year, Kind: kind}
			rec, err := s.get(id)
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			if err != nil {
				s.logger.Warn("skipping unreadable record", "report", id.Key(), "error", err)
				continue
			}
			out = append(out, rec)
		}
	}

	kindOrder := make(map[models.ReportKind]int, len(models.AllKinds))
	for i, k := range models.AllKinds {
		kindOrder[k] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Identity, out[j].Identity
		if a.FiscalYear != b.FiscalYear {
			return a.FiscalYear > b.FiscalYear
		}
		return kindOrder[a.Kind] > kindOrder[b.Kind]
	})
	return out, nil
}

// Entities returns the entity codes that have at least one directory.
func (s *Store) Entities() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list root: %v", models.ErrStorage, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// WriteText stores the text artifact for id and records its path.
func (s *Store) WriteText(id models.ReportIdentity, text string) (models.ReportRecord, error) {
	unlock := s.lock(id)
	defer unlock()

	rec, err := s.get(id)
	if err != nil {
		return models.ReportRecord{}, err
	}
	if err := s.writeAtomic(s.TextPath(id), []byte(text)); err != nil {
		return models.ReportRecord{}, err
	}
	rec.TextPath = s.TextPath(id)
	if err := s.writeRecord(rec); err != nil {
		return models.ReportRecord{}, err
	}
	return rec, nil
}

// ReadText returns the text artifact for id, or ErrNotFound when the report
// has not been extracted.
func (s *Store) ReadText(id models.ReportIdentity) (string, error) {
	rec, err := s.Get(id)
	if err != nil {
		return "", err
	}
	if !rec.HasText() {
		return "", fmt.Errorf("%w: report %s has no extracted text", models.ErrNotFound, id.Key())
	}
	data, err := afero.ReadFile(s.fs, rec.TextPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: text artifact missing for %s", models.ErrNotFound, id.Key())
		}
		return "", fmt.Errorf("%w: read text %s: %v", models.ErrStorage, id.Key(), err)
	}
	return string(data), nil
}

// ReadBinary returns the stored document bytes for rec.
func (s *Store) ReadBinary(rec models.ReportRecord) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, rec.BinaryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: binary missing for %s", models.ErrNotFound, rec.Identity.Key())
		}
		return nil, fmt.Errorf("%w: read binary %s: %v", models.ErrStorage, rec.Identity.Key(), err)
	}
	return data, nil
}

// ── Internals ──

// publish installs a new binary and its record. Both are staged first and
// the record rename is the commit point: on any failure the previous binary
// and record are left in place.
func (s *Store) publish(rec models.ReportRecord, data []byte) error {
	binPath := rec.BinaryPath
	recData, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", models.ErrStorage, err)
	}
	binTmp, err := s.stage(binPath, data)
	if err != nil {
		return err
	}
	recTmp, err := s.stage(s.MetadataPath(rec.Identity), recData)
	if err != nil {
		s.fs.Remove(binTmp)
		return err
	}
	discard := func() {
		s.fs.Remove(binTmp)
		s.fs.Remove(recTmp)
	}

	backup := ""
	if ok, _ := afero.Exists(s.fs, binPath); ok {
		backup = filepath.Join(filepath.Dir(binPath), "."+filepath.Base(binPath)+".prev")
		if err := s.fs.Rename(binPath, backup); err != nil {
			discard()
			return fmt.Errorf("%w: set aside %s: %v", models.ErrStorage, binPath, err)
		}
	}
	restore := func() {
		if backup == "" {
			s.fs.Remove(binPath)
			return
		}
		if err := s.fs.Rename(backup, binPath); err != nil {
			s.logger.Error("could not restore previous binary", "path", binPath, "backup", backup, "error", err)
		}
	}

	if err := s.fs.Rename(binTmp, binPath); err != nil {
		restore()
		discard()
		return fmt.Errorf("%w: rename %s: %v", models.ErrStorage, binPath, err)
	}
	if err := s.fs.Rename(recTmp, s.MetadataPath(rec.Identity)); err != nil {
		restore()
		discard()
		return fmt.Errorf("%w: rename %s: %v", models.ErrStorage, s.MetadataPath(rec.Identity), err)
	}
	if backup != "" {
		if err := s.fs.Remove(backup); err != nil {
			s.logger.Warn("could not remove previous binary", "path", backup, "error", err)
		}
	}
	return nil
}

func (s *Store) writeRecord(rec models.ReportRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", models.ErrStorage, err)
	}
	return s.writeAtomic(s.MetadataPath(rec.Identity), data)
}

// writeAtomic writes to a temp file in the target directory and renames it
// into place. Readers see either the old file or the complete new one.
func (s *Store) writeAtomic(path string, data []byte) error {
	tmpName, err := s.stage(path, data)
	if err != nil {
		return err
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("%w: rename %s: %v", models.ErrStorage, path, err)
	}
	return nil
}

// stage writes data to a synced temp file next to path and returns its name.
func (s *Store) stage(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create %s: %v", models.ErrStorage, dir, err)
	}
	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: create temp for %s: %v", models.ErrStorage, path, err)
	}
	tmpName := tmp.Name()
	fail := func(op string, err error) (string, error) {
		tmp.Close()
		s.fs.Remove(tmpName)
		return "", fmt.Errorf("%w: %s %s: %v", models.ErrStorage, op, path, err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return "", fmt.Errorf("%w: close %s: %v", models.ErrStorage, path, err)
	}
	return tmpName, nil
}

// lock serialises writers of the same identity.
func (s *Store) lock(id models.ReportIdentity) func() {
	key := id.Key()
	s.mu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}
