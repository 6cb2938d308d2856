package core

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/JonMunkholm/csvschema/internal/logging"
	"github.com/JonMunkholm/csvschema/internal/metrics"
)

// DefaultImportTimeout bounds a single import when the caller's context has
// no deadline of its own.
var DefaultImportTimeout = 10 * time.Minute

// Options configures a Service. Zero values select in-memory backends and
// the package defaults.
type Options struct {
	Catalog Catalog
	Store   Store
	History HistoryLog

	MaxConcurrentImports int
	MaxImportWait        time.Duration
	ImportTimeout        time.Duration

	// Workers bounds parallel row validation within one import.
	// Defaults to GOMAXPROCS.
	Workers int

	Clock clockwork.Clock
}

// Service is the entry point for table definition, import, query and export.
type Service struct {
	registry *Registry
	store    Store
	history  HistoryLog
	limiter  *ImportLimiter
	clock    clockwork.Clock
	workers  int
	timeout  time.Duration

	locks tableLocks
}

// NewService wires a Service from opts.
func NewService(opts Options) *Service {
	if opts.Catalog == nil {
		opts.Catalog = NewMemoryCatalog()
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.History == nil {
		opts.History = NewMemoryHistory()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.ImportTimeout <= 0 {
		opts.ImportTimeout = DefaultImportTimeout
	}

	return &Service{
		registry: NewRegistry(opts.Catalog, opts.Store),
		store:    opts.Store,
		history:  opts.History,
		limiter:  NewImportLimiter(opts.MaxConcurrentImports, opts.MaxImportWait),
		clock:    opts.Clock,
		workers:  opts.Workers,
		timeout:  opts.ImportTimeout,
	}
}

// CreateTable registers a new table and provisions its storage.
func (s *Service) CreateTable(ctx context.Context, name string, columns []Column) (TableSchema, error) {
	schema, err := s.registry.CreateTable(ctx, name, columns)
	if err != nil {
		return TableSchema{}, err
	}
	metrics.TablesCreatedTotal.Inc()
	logging.FromContext(ctx).Info("table created", "table", name, "columns", len(schema.Columns))
	return schema, nil
}

// GetSchema returns the definition of a table.
func (s *Service) GetSchema(ctx context.Context, name string) (TableSchema, error) {
	return s.registry.GetSchema(ctx, name)
}

// ListTables returns table names in creation order.
func (s *Service) ListTables(ctx context.Context) ([]string, error) {
	return s.registry.ListTables(ctx)
}

// DropTable removes a table and all of its rows. It waits for an import
// into the same table to finish first.
func (s *Service) DropTable(ctx context.Context, name string) error {
	unlock := s.locks.lock(name)
	defer unlock()

	if err := s.registry.DropTable(ctx, name); err != nil {
		return err
	}
	metrics.TablesDroppedTotal.Inc()
	logging.FromContext(ctx).Info("table dropped", "table", name)
	return nil
}

// LimiterStatus reports import slot usage.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until in-flight imports finish or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// tableLocks hands out one mutex per table name. Entries are reference
// counted and removed when unused.
type tableLocks struct {
	mu    sync.Mutex
	locks map[string]*tableLock
}

type tableLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the mutex for name and returns its release function.
func (l *tableLocks) lock(name string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*tableLock)
	}
	tl, ok := l.locks[name]
	if !ok {
		tl = &tableLock{}
		l.locks[name] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()

	return func() {
		tl.mu.Unlock()

		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, name)
		}
		l.mu.Unlock()
	}
}
