package storage

import (
	"context"
	"sync"

	"mdstore/pkg/data"
)

// Registry routes stream keys to drives: an explicit per-key override if
// configured, else the default drive. It is pure routing: the only I/O
// is delegated to the resolved drive. Constructed explicitly and passed
// where needed; there is no ambient global registry.
type Registry struct {
	defaultDrive Drive
	securities   data.SecurityProvider

	mu        sync.RWMutex
	overrides map[data.StreamKey]Drive
	stores    map[storeCacheKey]*Store

	locks *lockTable
}

type storeCacheKey struct {
	key   data.StreamKey
	drive Drive
}

// NewRegistry builds a registry over a default drive. The security
// provider may be nil, in which case default decimal scales apply.
func NewRegistry(defaultDrive Drive, securities data.SecurityProvider) *Registry {
	return &Registry{
		defaultDrive: defaultDrive,
		securities:   securities,
		overrides:    make(map[data.StreamKey]Drive),
		stores:       make(map[storeCacheKey]*Store),
		locks:        newLockTable(),
	}
}

// DefaultDrive returns the registry's default drive.
func (r *Registry) DefaultDrive() Drive { return r.defaultDrive }

// SetOverride pins a stream key to a specific drive.
func (r *Registry) SetOverride(key data.StreamKey, drive Drive) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[key] = drive
}

// ResolveDrive returns the drive backing a stream key.
func (r *Registry) ResolveDrive(key data.StreamKey) Drive {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.overrides[key]; ok {
		return d
	}
	return r.defaultDrive
}

// GetStorage returns the store handle for a stream key, bound to the
// given drive, or to the resolved drive when drive is nil. Handles are
// cached so all callers share one per-file lock discipline.
func (r *Registry) GetStorage(key data.StreamKey, drive Drive) *Store {
	if drive == nil {
		drive = r.ResolveDrive(key)
	}
	ck := storeCacheKey{key: key, drive: drive}
	r.mu.RLock()
	s, ok := r.stores[ck]
	r.mu.RUnlock()
	if ok {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[ck]; ok {
		return s
	}
	s = newStore(key, drive, r.securities, r.locks)
	r.stores[ck] = s
	return s
}

// GetAvailableDataTypes discovers the data types stored for an
// instrument on the default drive.
func (r *Registry) GetAvailableDataTypes(ctx context.Context, id data.SecurityID) ([]data.TypeArg, error) {
	return r.defaultDrive.GetAvailableDataTypes(ctx, id)
}

// ListSecurities enumerates instruments on the default drive.
func (r *Registry) ListSecurities(ctx context.Context) ([]data.SecurityID, error) {
	return r.defaultDrive.ListSecurities(ctx)
}
