package replication

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/iudanet/dirsync/internal/models"
	"github.com/iudanet/dirsync/internal/validation"
)

var (
	// ErrNoDomain is returned for a DN outside every replication domain.
	ErrNoDomain = errors.New("no replication domain for dn")
	// ErrDomainExists is returned when a base DN is registered twice.
	ErrDomainExists = errors.New("replication domain already registered")
)

// Submitter accepts operations for replay.
type Submitter interface {
	Submit(ctx context.Context, msg *models.UpdateMsg) (Outcome, error)
}

// Registry maps replication domain base DNs to their dispatchers.
type Registry struct {
	domains map[string]*Dispatcher
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{domains: make(map[string]*Dispatcher)}
}

// Register adds a domain rooted at baseDN.
func (r *Registry) Register(baseDN string, d *Dispatcher) error {
	if err := validation.ValidateDN(baseDN); err != nil {
		return err
	}

	key := models.NormalizeDN(baseDN)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.domains[key]; ok {
		return fmt.Errorf("%w: %s", ErrDomainExists, key)
	}
	r.domains[key] = d
	return nil
}

// Lookup returns the dispatcher of the most specific domain containing dn.
func (r *Registry) Lookup(dn string) (*Dispatcher, bool) {
	key := models.NormalizeDN(dn)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best    *Dispatcher
		bestLen = -1
	)
	for base, d := range r.domains {
		if key != base && !strings.HasSuffix(key, ","+base) {
			continue
		}
		if len(base) > bestLen {
			best, bestLen = d, len(base)
		}
	}
	return best, best != nil
}

// Submit routes msg to the dispatcher of its domain.
func (r *Registry) Submit(ctx context.Context, msg *models.UpdateMsg) (Outcome, error) {
	d, ok := r.Lookup(msg.TargetDN)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoDomain, msg.TargetDN)
	}
	return d.Submit(ctx, msg)
}

// Domains returns the registered base DNs in sorted order.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.domains))
	for base := range r.domains {
		out = append(out, base)
	}
	sort.Strings(out)
	return out
}

// Close closes every dispatcher.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for base, d := range r.domains {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("domain %s: %w", base, err))
		}
	}
	return errors.Join(errs...)
}
