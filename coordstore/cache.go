package coordstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

// CachedFacade wraps a Facade with a local goleveldb read-through cache. Only the
// cluster-threshold read is cached (GetClusterThresholdCached); ActiveNodes and every other
// embedded Facade method still go straight to the remote store. On a remote failure the cached
// read returns the last value it stored instead of the error (§4.1/§7 fail-safe defaults). Grounded on the teacher's
// own infrastructure/db/dbaccess (ldb.NewLevelDB) for the embedded-KV idiom.
type CachedFacade struct {
	*Facade
	db  *leveldb.DB
	ttl time.Duration
}

// NewCachedFacade opens (or creates) a leveldb database at path to back the cache.
func NewCachedFacade(facade *Facade, path string, cacheTTL time.Duration) (*CachedFacade, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open local cache db")
	}
	return &CachedFacade{Facade: facade, db: db, ttl: cacheTTL}, nil
}

func (c *CachedFacade) Close() error {
	if err := c.db.Close(); err != nil {
		return err
	}
	return c.Facade.Close()
}

// cachedRead fetches key from the remote store and refreshes the local cache on success; on
// remote failure, it falls back to the last-known cached value if one is present (stale-but-
// available beats blocked).
func (c *CachedFacade) cachedRead(ctx context.Context, cacheKey string, fetch func() ([]byte, bool, error)) ([]byte, bool, error) {
	val, ok, err := fetch()
	if err == nil {
		if ok {
			_ = c.db.Put([]byte(cacheKey), val, nil)
		}
		return val, ok, nil
	}

	cached, cacheErr := c.db.Get([]byte(cacheKey), nil)
	if cacheErr != nil {
		return nil, false, err // no cache entry either; surface the original error
	}
	return cached, true, nil
}

// GetClusterThresholdCached is the cached counterpart of Facade.GetClusterThreshold.
func (c *CachedFacade) GetClusterThresholdCached(ctx context.Context) (int, bool, error) {
	val, ok, err := c.cachedRead(ctx, "cluster-threshold", func() ([]byte, bool, error) {
		return c.Get(ctx, clusterThresholdKey)
	})
	if err != nil || !ok {
		return 0, ok, err
	}
	n := 0
	for _, ch := range val {
		if ch < '0' || ch > '9' {
			break
		}
		n = n*10 + int(ch-'0')
	}
	return n, true, nil
}
