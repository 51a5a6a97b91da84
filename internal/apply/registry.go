package apply

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	gc "github.com/joshsymonds/mailfold/internal/gmail"
)

// Registry resolves folder names to remote label identifiers, creating labels
// on demand. It is owned by the run and safe for concurrent use: concurrent
// resolution of the same unseen name collapses into one remote lookup-or-create
// call, so duplicate labels cannot be created.
type Registry struct {
	Client gc.Client

	mu     sync.RWMutex
	cache  map[string]gc.LabelID
	flight singleflight.Group
}

func NewRegistry(client gc.Client) *Registry {
	return &Registry{Client: client, cache: map[string]gc.LabelID{}}
}

// Resolve returns the label identifier for name. On a cache miss it refreshes
// the label list from the remote and creates the label if it does not exist.
func (r *Registry) Resolve(ctx context.Context, name string) (gc.LabelID, error) {
	r.mu.RLock()
	id, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	v, err, _ := r.flight.Do(name, func() (any, error) {
		// A caller that lost the race may find the name cached by the winner.
		r.mu.RLock()
		cached, hit := r.cache[name]
		r.mu.RUnlock()
		if hit {
			return cached, nil
		}

		byName, _, listErr := r.Client.ListLabels(ctx)
		if listErr != nil {
			return gc.LabelID(""), fmt.Errorf("refresh labels: %w", listErr)
		}
		r.mu.Lock()
		for n, lid := range byName {
			r.cache[n] = lid
		}
		r.mu.Unlock()
		if lid, exists := byName[name]; exists {
			return lid, nil
		}

		created, createErr := r.Client.CreateLabel(ctx, name)
		if createErr != nil {
			return gc.LabelID(""), fmt.Errorf("create label %q: %w", name, createErr)
		}
		r.mu.Lock()
		r.cache[name] = created
		r.mu.Unlock()
		return created, nil
	})
	if err != nil {
		return "", err
	}
	return v.(gc.LabelID), nil
}
