// Package identity resolves author dids to handles through an in-memory LRU,
// a persistent cache and, last, the remote directory.
package identity

import (
	"context"

	"go.uber.org/zap"

	"threadgraph/api/internal/logging"
	"threadgraph/api/internal/metrics"
)

// Store is the persistent tier. found=false means the did was never resolved;
// found=true with a nil handle is a cached "no handle" answer.
type Store interface {
	LookupIdentity(ctx context.Context, did string) (handle *string, found bool, err error)
	SaveIdentity(ctx context.Context, did string, handle *string) error
}

// Resolver is shared by every thread builder. Concurrent misses for the same
// did may each reach the directory; the writes race and the last one wins,
// which is harmless because lookups are idempotent.
type Resolver struct {
	cache     Cache
	store     Store
	directory Directory
	log       *zap.Logger
}

func NewResolver(cache Cache, store Store, directory Directory, log *zap.Logger) *Resolver {
	return &Resolver{
		cache:     cache,
		store:     store,
		directory: directory,
		log:       logging.OrNop(log).Named("identity"),
	}
}

// Resolve returns the handle for did, or nil when the directory knows none.
// Failures are *LookupError; errors.Is(err, ErrUnsupported) identifies
// identifier schemes that cannot be resolved.
func (r *Resolver) Resolve(ctx context.Context, did string) (*string, error) {
	if handle, ok := r.cache.Get(did); ok {
		metrics.IdentityLookups.WithLabelValues(string(TierMemory)).Inc()
		r.log.Debug("memory cache hit", zap.String("did", did), zap.Stringp("handle", handle))
		return handle, nil
	}

	handle, found, err := r.store.LookupIdentity(ctx, did)
	if err != nil {
		metrics.IdentityLookups.WithLabelValues("error").Inc()
		return nil, &LookupError{DID: did, Tier: TierStore, Err: err}
	}
	if found {
		metrics.IdentityLookups.WithLabelValues(string(TierStore)).Inc()
		r.log.Debug("persistent cache hit", zap.String("did", did), zap.Stringp("handle", handle))
		r.cache.Add(did, handle)
		return handle, nil
	}

	handle, err = r.directory.Lookup(ctx, did)
	if err != nil {
		metrics.IdentityLookups.WithLabelValues("error").Inc()
		return nil, &LookupError{DID: did, Tier: TierRemote, Err: err}
	}
	metrics.IdentityLookups.WithLabelValues(string(TierRemote)).Inc()
	r.log.Debug("resolved did", zap.String("did", did), zap.Stringp("handle", handle))

	r.cache.Add(did, handle)
	if err := r.store.SaveIdentity(ctx, did, handle); err != nil {
		return nil, &LookupError{DID: did, Tier: TierStore, Err: err}
	}
	return handle, nil
}
