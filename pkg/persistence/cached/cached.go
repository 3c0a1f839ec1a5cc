// Package cached wraps a persistence backend with an in-memory cache of active
// workflow definitions keyed by trigger event name.
package cached

import (
	"context"
	"time"

	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/persistence"
	gocache "github.com/patrickmn/go-cache"
)

const activePrefix = "active:"

// Persistence delegates everything to the wrapped store except active
// definition lookups, which are served from the cache until ttl elapses or the
// entry is invalidated.
type Persistence struct {
	persistence.Persistence

	definitions *DefinitionRepository
}

// NewPersistence wraps inner. A ttl of zero or less disables expiry.
func NewPersistence(inner persistence.Persistence, ttl time.Duration) *Persistence {
	expiration := ttl
	if expiration <= 0 {
		expiration = gocache.NoExpiration
	}

	return &Persistence{
		Persistence: inner,
		definitions: &DefinitionRepository{
			inner: inner.DefinitionRepository(),
			cache: gocache.New(expiration, 10*time.Minute),
		},
	}
}

func (p *Persistence) DefinitionRepository() persistence.DefinitionRepository {
	return p.definitions
}

// Invalidate drops the cached definitions of one trigger event.
func (p *Persistence) Invalidate(eventName string) {
	p.definitions.cache.Delete(activePrefix + eventName)
}

// Flush drops every cached entry.
func (p *Persistence) Flush() {
	p.definitions.cache.Flush()
}

// DefinitionRepository is the caching definition store.
type DefinitionRepository struct {
	inner persistence.DefinitionRepository
	cache *gocache.Cache
}

func (r *DefinitionRepository) ActiveByEvent(ctx context.Context, eventName string) ([]*models.WorkflowDefinition, error) {
	if cached, found := r.cache.Get(activePrefix + eventName); found {
		if definitions, ok := cached.([]*models.WorkflowDefinition); ok {
			return definitions, nil
		}
	}

	definitions, err := r.inner.ActiveByEvent(ctx, eventName)
	if err != nil {
		return nil, err
	}

	r.cache.Set(activePrefix+eventName, definitions, gocache.DefaultExpiration)

	return definitions, nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return r.inner.GetByID(ctx, id)
}

func (r *DefinitionRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	return r.inner.GetAll(ctx)
}

// Save writes through and invalidates every event the definition may have been
// listed under, since its trigger event may have changed.
func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	err := r.inner.Save(ctx, definition)
	if err != nil {
		return err
	}

	r.cache.Flush()

	return nil
}
