package flow

import (
	"fmt"
	"time"

	"github.com/converso/flowengine/persistence"
	c "github.com/patrickmn/go-cache"
)

// Loader builds graph snapshots from stored definitions. Published
// versions are immutable, so compiled snapshots are cached forever.
type Loader struct {
	storage persistence.MetadataStorage
	cache   *c.Cache
}

func NewLoader(storage persistence.MetadataStorage) *Loader {
	return &Loader{
		storage: storage,
		cache:   c.New(c.NoExpiration, 10*time.Minute),
	}
}

func (l *Loader) Load(flowId string, version int) (*Graph, error) {
	key := fmt.Sprintf("%s:%d", flowId, version)
	if cached, found := l.cache.Get(key); found {
		return cached.(*Graph), nil
	}
	def, err := l.storage.GetFlowDefinition(flowId, version)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, fmt.Errorf("flow %s version %d not found", flowId, version)
	}
	g := BuildGraph(def)
	l.cache.Add(key, g, c.NoExpiration)
	return g, nil
}
