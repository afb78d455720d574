package rates

import (
	"fmt"
	"sync"

	"github.com/ogulcanaydogan/cuemeter/pkg/model"
)

// Registry holds the active table configuration in configured order.
type Registry struct {
	mu     sync.RWMutex
	tables []model.TableConfig
}

// NewRegistry creates an empty table registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Replace validates cfgs and swaps them in. On error the previous
// configuration stays active.
func (r *Registry) Replace(cfgs []model.TableConfig) error {
	if err := ValidateAll(cfgs); err != nil {
		return err
	}
	next := make([]model.TableConfig, len(cfgs))
	copy(next, cfgs)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables = next
	return nil
}

// Get returns the configuration for a table.
func (r *Registry) Get(id string) (model.TableConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.tables {
		if t.ID == id {
			return t, nil
		}
	}
	return model.TableConfig{}, fmt.Errorf("table %q not found", id)
}

// List returns all table identifiers in configured order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.tables))
	for _, t := range r.tables {
		ids = append(ids, t.ID)
	}
	return ids
}

// All returns a copy of all table configurations in configured order.
func (r *Registry) All() []model.TableConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.TableConfig, len(r.tables))
	copy(out, r.tables)
	return out
}
