package netpool

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// PoolGroup holds one [Pool] per key. Keys are compared with ==, callers
// usually build them from the scheme, host and proxy of a request.
type PoolGroup struct {
	sync.RWMutex
	pools map[any]*Pool

	maxConnsPerHost, maxIdlePerHost uint
	// MaxIdleDuration closes idle connections older than this, 0 keeps them.
	MaxIdleDuration time.Duration
	Logger          *slog.Logger
}

func NewGroup(maxConnsPerHost, maxIdlePerHost uint) *PoolGroup {
	return &PoolGroup{
		pools:           map[any]*Pool{},
		maxConnsPerHost: maxConnsPerHost, maxIdlePerHost: maxIdlePerHost,
	}
}

// Connect checks out a connection from the pool for key, creating the pool
// on first use.
func (g *PoolGroup) Connect(ctx context.Context, key any, dial func(ctx context.Context) (net.Conn, error)) (Conn, error) {
	return g.pool(key).Connect(ctx, dial)
}

func (g *PoolGroup) pool(key any) *Pool {
	g.RLock()
	p, ok := g.pools[key]
	g.RUnlock()
	if ok {
		return p
	}
	g.Lock()
	defer g.Unlock()
	if p, ok = g.pools[key]; ok {
		return p
	}
	p = NewPool(g.maxIdlePerHost, g.maxConnsPerHost)
	p.maxIdleDuration, p.group = g.MaxIdleDuration, g
	g.pools[key] = p
	return p
}

// Close closes every idle connection. Checked out connections are closed
// when released.
func (g *PoolGroup) Close() error {
	g.Lock()
	defer g.Unlock()
	for k, p := range g.pools {
		p.closeIdle()
		delete(g.pools, k)
	}
	return nil
}
