package policystore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// ErrNoActivePolicy is returned by GetActive when no version has ever
// been activated, or the active version has been explicitly deactivated.
// The deliberation engine turns this into Deny(NoActivePolicy) — the
// store fails closed, never open.
var ErrNoActivePolicy = errors.New("policystore: no active policy")

// ErrVersionNotFound is returned when a requested version does not exist.
var ErrVersionNotFound = errors.New("policystore: version not found")

// Store persists the single global policy library and its active-version
// state machine in Postgres via GORM, and keeps an in-memory read cache
// so GetActive — the hot path hit by every deliberation — doesn't
// round-trip to the database under load. The cache is invalidated on
// every write through this Store; it is not safe to mutate the
// underlying tables out of band.
//
// There is exactly one policy library, not one per use case (spec.md
// §3: "version is a single monotonically increasing sequence shared by
// the whole library"); use_case is the State Resolver's selector, and
// has no meaning here.
type Store struct {
	db *gorm.DB

	mu            sync.RWMutex
	activeVersion int // 0 means none active, the noneActiveVersion sentinel

	versionMu   sync.Mutex
	nextVersion int
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate runs GORM auto-migration for the store's models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Policy{}, &Fragment{}, &ActiveVersionEntry{})
}

// WarmCache loads the active version and the next version counter into
// memory. Call once at startup after AutoMigrate; Store's own writes
// keep the cache current afterward.
func (s *Store) WarmCache() error {
	var maxVersion int
	if err := s.db.Model(&Policy{}).Select("COALESCE(MAX(version), 0)").Scan(&maxVersion).Error; err != nil {
		return fmt.Errorf("policystore: warm cache: %w", err)
	}

	var latest ActiveVersionEntry
	err := s.db.Order("activated_at desc").First(&latest).Error
	active := noneActiveVersion
	if err == nil {
		active = latest.Version
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("policystore: warm cache: %w", err)
	}

	s.versionMu.Lock()
	s.nextVersion = maxVersion + 1
	s.versionMu.Unlock()

	s.mu.Lock()
	s.activeVersion = active
	s.mu.Unlock()
	return nil
}

// Insert adds a new immutable policy version, assigning it the next
// monotonic integer in the library's shared sequence. It does not
// activate it.
func (s *Store) Insert(description, versionDescription, creator string, content []Fragment) (Policy, error) {
	s.versionMu.Lock()
	defer s.versionMu.Unlock()

	for i := range content {
		content[i].Ordinal = i
	}
	p := Policy{
		Version:            s.nextVersion,
		Description:        description,
		VersionDescription: versionDescription,
		Creator:            creator,
		CreatedAt:          time.Now().UTC(),
		Content:            content,
	}
	if err := s.db.Create(&p).Error; err != nil {
		return Policy{}, fmt.Errorf("policystore: insert: %w", err)
	}
	s.nextVersion++
	return p, nil
}

// Get returns one policy version, its fragments preloaded in submission
// order.
func (s *Store) Get(version int) (Policy, error) {
	var p Policy
	err := s.db.Preload("Content", func(db *gorm.DB) *gorm.DB {
		return db.Order("ordinal asc")
	}).First(&p, "version = ?", version).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Policy{}, fmt.Errorf("policystore: get %d: %w", version, ErrVersionNotFound)
	}
	if err != nil {
		return Policy{}, fmt.Errorf("policystore: get %d: %w", version, err)
	}
	return p, nil
}

// List returns every policy version in the library, oldest first, with
// content fragments preloaded — the management list endpoint summarizes
// each version's (reasoner, reasoner_version) coverage, so every caller
// needs them anyway.
func (s *Store) List() ([]Policy, error) {
	var ps []Policy
	err := s.db.Preload("Content", func(db *gorm.DB) *gorm.DB {
		return db.Order("ordinal asc")
	}).Order("version asc").Find(&ps).Error
	if err != nil {
		return nil, fmt.Errorf("policystore: list: %w", err)
	}
	return ps, nil
}

// GetActive returns the currently active policy version. It reads the
// cache first; ErrNoActivePolicy covers both "never activated" and
// "deactivated."
func (s *Store) GetActive() (Policy, error) {
	s.mu.RLock()
	version := s.activeVersion
	s.mu.RUnlock()
	if version == noneActiveVersion {
		return Policy{}, ErrNoActivePolicy
	}
	return s.Get(version)
}

// Activate makes version the active policy for the whole library.
// version must already exist (Insert it first); activation never
// mutates policy content, only the active-version log.
func (s *Store) Activate(version int, actor string) error {
	if _, err := s.Get(version); err != nil {
		return fmt.Errorf("policystore: activate: %w", err)
	}

	entry := ActiveVersionEntry{Version: version, ActivatedAt: time.Now().UTC(), ActivatedBy: actor}
	if err := s.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("policystore: activate: %w", err)
	}

	s.mu.Lock()
	s.activeVersion = version
	s.mu.Unlock()
	return nil
}

// Deactivate appends the "no policy active" sentinel to the log, so
// subsequent deliberations fail closed with Deny(NoActivePolicy) until a
// new version is activated. The prior active-version rows are never
// deleted — the log stays a full history of every switch.
func (s *Store) Deactivate(actor string) error {
	entry := ActiveVersionEntry{Version: noneActiveVersion, ActivatedAt: time.Now().UTC(), ActivatedBy: actor}
	if err := s.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("policystore: deactivate: %w", err)
	}
	s.mu.Lock()
	s.activeVersion = noneActiveVersion
	s.mu.Unlock()
	return nil
}
