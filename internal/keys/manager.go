package keys

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"vaultrail/pkg/platform/sentinel"
)

const keySize = 32

// Manager owns the versioned key set. It is the only component allowed to
// hold raw key material; everything else sees either a Record handed out for
// an immediate cipher operation or metadata via Info.
type Manager struct {
	mu            sync.RWMutex
	keys          map[int]*Record
	activeVersion int
	expiryHorizon time.Duration
	logger        *slog.Logger

	// rotate is single-flight: a Rotate call while another is in progress
	// joins the in-flight rotation instead of running a second one.
	rotate singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a logger for rotation and purge events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithExpiryHorizon sets how long a retired key stays decryptable before
// PurgeExpired may remove it.
func WithExpiryHorizon(d time.Duration) Option {
	return func(m *Manager) { m.expiryHorizon = d }
}

// NewManager creates a manager with an initial active key at version 1.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		keys:          make(map[int]*Record),
		expiryHorizon: 180 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(m)
	}

	first, err := newRecord(1)
	if err != nil {
		return nil, err
	}
	m.keys[first.Version] = first
	m.activeVersion = first.Version
	return m, nil
}

func newRecord(version int) (*Record, error) {
	material := make([]byte, keySize)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("generate key material: %w", err)
	}
	return &Record{
		ID:        uuid.New(),
		Version:   version,
		Material:  material,
		Algorithm: AlgorithmAESGCM,
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}, nil
}

// Active returns the currently active key record.
func (m *Manager) Active() (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.keys[m.activeVersion]
	if !ok {
		return nil, fmt.Errorf("active key v%d: %w", m.activeVersion, sentinel.ErrKeyNotFound)
	}
	return rec, nil
}

// ByVersion returns the key for a specific version. A missing version is a
// hard failure: ciphertext referencing it can never be recovered by any
// other key, so the error must propagate.
func (m *Manager) ByVersion(version int) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.keys[version]
	if !ok {
		return nil, fmt.Errorf("key v%d: %w", version, sentinel.ErrKeyNotFound)
	}
	return rec, nil
}

// Rotate deactivates the current key, marks it with an expiry horizon, and
// activates a fresh key at version+1. Concurrent callers share one rotation.
func (m *Manager) Rotate() (*Record, error) {
	rec, err, _ := m.rotate.Do("rotate", func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		current := m.keys[m.activeVersion]
		next, err := newRecord(m.activeVersion + 1)
		if err != nil {
			return nil, err
		}

		if current != nil {
			current.Active = false
			expires := time.Now().UTC().Add(m.expiryHorizon)
			current.ExpiresAt = &expires
		}
		m.keys[next.Version] = next
		m.activeVersion = next.Version

		if m.logger != nil {
			m.logger.Info("key rotated",
				"new_version", next.Version,
				"retired_version", next.Version-1,
			)
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return rec.(*Record), nil
}

// PurgeExpired removes inactive keys past their expiry horizon and returns
// how many were removed. Expiry is advisory cleanup: a key is never removed
// before its horizon elapses, so callers holding old ciphertext are not
// starved ahead of schedule.
func (m *Manager) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for version, rec := range m.keys {
		if rec.Active || rec.ExpiresAt == nil || rec.ExpiresAt.After(now) {
			continue
		}
		delete(m.keys, version)
		removed++
	}
	if removed > 0 && m.logger != nil {
		m.logger.Info("purged expired keys", "count", removed)
	}
	return removed
}

// Info returns metadata for every retained key, newest first. Raw material
// is deliberately absent from the returned shape.
func (m *Manager) Info() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.keys))
	for _, rec := range m.keys {
		infos = append(infos, rec.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Version > infos[j].Version })
	return infos
}

// ActiveVersion reports the current active key version.
func (m *Manager) ActiveVersion() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeVersion
}
