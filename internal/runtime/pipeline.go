package runtime

import (
	"sort"

	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/internal/runtime/discovery"
	idspkg "github.com/drblury/eventscore/internal/runtime/ids"
)

// ItemKey identifies a pipeline item. The clone count is not part of it:
// re-registering a function with another clone count is still a duplicate.
type ItemKey struct {
	Identity string
	Event    event.Type
	Group    event.Group
}

// PipelineItem is one registered consumer within a pipeline.
type PipelineItem struct {
	Func     ConsumerFunc
	Identity string
	Event    event.Type
	Group    event.Group
	Clones   int
}

// Key returns the dedup key of the item.
func (i PipelineItem) Key() ItemKey {
	return ItemKey{Identity: i.Identity, Event: i.Event, Group: i.Group}
}

func itemFromRegistration(reg discovery.Registration) PipelineItem {
	return PipelineItem{
		Func:     reg.Func,
		Identity: reg.Identity,
		Event:    reg.Event,
		Group:    reg.Group,
		Clones:   reg.Clones,
	}
}

// Pipeline is the set of items registered for one consumer group.
type Pipeline struct {
	UID   string
	Group event.Group
	items map[ItemKey]PipelineItem
}

// NewPipeline returns an empty pipeline with a fresh ULID.
func NewPipeline(group event.Group) *Pipeline {
	return &Pipeline{
		UID:   idspkg.CreateULID(),
		Group: group,
		items: make(map[ItemKey]PipelineItem),
	}
}

// Add inserts item unless an item with the same key exists. The first
// registration wins.
func (p *Pipeline) Add(item PipelineItem) bool {
	key := item.Key()
	if _, ok := p.items[key]; ok {
		return false
	}
	p.items[key] = item
	return true
}

// Len returns the number of distinct items.
func (p *Pipeline) Len() int { return len(p.items) }

// Items returns the items sorted by identity, then event type.
func (p *Pipeline) Items() []PipelineItem {
	out := make([]PipelineItem, 0, len(p.items))
	for _, item := range p.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity != out[j].Identity {
			return out[i].Identity < out[j].Identity
		}
		return out[i].Event < out[j].Event
	})
	return out
}

// clone returns a copy whose item set can be read without further locking.
func (p *Pipeline) clone() *Pipeline {
	items := make(map[ItemKey]PipelineItem, len(p.items))
	for k, v := range p.items {
		items[k] = v
	}
	return &Pipeline{UID: p.UID, Group: p.Group, items: items}
}
