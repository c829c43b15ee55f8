package dept

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/breezeboot/breeze/pkg/accesserr"
)

// Loader fetches the flat department table
type Loader interface {
	LoadDepartmentTree(ctx context.Context) ([]Department, error)
}

// LoaderFunc adapts a function to Loader
type LoaderFunc func(ctx context.Context) ([]Department, error)

// LoadDepartmentTree calls f(ctx)
func (f LoaderFunc) LoadDepartmentTree(ctx context.Context) ([]Department, error) {
	return f(ctx)
}

// Provider serves the current Hierarchy and replaces it wholesale on Rebuild.
// Readers never observe a partially built hierarchy. Rebuilds run one at a
// time, so the hierarchy in service always comes from the latest load.
type Provider struct {
	loader      Loader
	logger      logrus.FieldLogger
	loadTimeout time.Duration
	rebuildMu   sync.Mutex
	current     atomic.Pointer[Hierarchy]
	builtAt     atomic.Int64
}

// NewProvider creates a provider. Call Rebuild before serving requests.
func NewProvider(loader Loader, logger logrus.FieldLogger, loadTimeout time.Duration) *Provider {
	return &Provider{
		loader:      loader,
		logger:      logger.WithField("component", "dept"),
		loadTimeout: loadTimeout,
	}
}

// Current returns the hierarchy in service, or nil before the first successful Rebuild
func (p *Provider) Current() *Hierarchy {
	return p.current.Load()
}

// BuiltAt returns when the hierarchy in service was built
func (p *Provider) BuiltAt() time.Time {
	ns := p.builtAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Snapshot returns the hierarchy in service, building it first if none exists yet
func (p *Provider) Snapshot(ctx context.Context) (*Hierarchy, error) {
	if h := p.current.Load(); h != nil {
		return h, nil
	}
	return p.Rebuild(ctx)
}

// Rebuild loads the department table and swaps in a new hierarchy.
// On failure the previous hierarchy stays in service and the error is returned.
// A Rebuild started while another is running waits for it and then loads again.
func (p *Provider) Rebuild(ctx context.Context) (*Hierarchy, error) {
	p.rebuildMu.Lock()
	defer p.rebuildMu.Unlock()

	if p.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.loadTimeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := p.loader.LoadDepartmentTree(ctx)
	if err != nil {
		p.logger.WithError(err).Error("failed to load department tree, keeping previous hierarchy")
		return nil, accesserr.Unavailable(err, "load department tree")
	}

	h, err := Build(rows)
	if err != nil {
		p.logger.WithError(err).Error("failed to build department hierarchy, keeping previous hierarchy")
		return nil, fmt.Errorf("rebuild department hierarchy: %w", err)
	}

	for _, id := range h.Orphans() {
		p.logger.WithField("dept_id", id).Warn("department parent not found, treating as root")
	}

	p.current.Store(h)
	p.builtAt.Store(time.Now().UnixNano())
	p.logger.WithFields(logrus.Fields{
		"departments": h.Len(),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("department hierarchy rebuilt")
	return h, nil
}
