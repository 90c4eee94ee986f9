package community

import (
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("community")

// Manager is the routing table for community actors. It owns the shared
// store and a per-community lock; every mutation for a community runs
// under that community's lock, giving each actor single-writer semantics.
type Manager struct {
	store  *Store
	logger *slog.Logger
	locks  *xsync.MapOf[string, *sync.Mutex]
	now    func() time.Time
}

func NewManager(store *Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger.With("system", "community"),
		locks:  xsync.NewMapOf[string, *sync.Mutex](),
		now:    time.Now,
	}
}

func (m *Manager) withLock(id string, fn func() error) error {
	mu, _ := m.locks.LoadOrCompute(id, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// Store exposes the backing store for read-only consumers (metrics,
// debugging tools).
func (m *Manager) Store() *Store {
	return m.store
}
