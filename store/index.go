package store

import (
	"github.com/domody/syris/pkg/buffer"
)

// index maps a key (request, entity or trace id) to the ids of the events
// referencing it, oldest first. Each key keeps at most perKey ids.
type index struct {
	perKey int
	keys   map[string]buffer.Buffer[string]
}

func newIndex(perKey int) *index {
	return &index{perKey: perKey, keys: make(map[string]buffer.Buffer[string])}
}

func (ix *index) add(key, eventID string) {
	if key == "" {
		return
	}
	ids, ok := ix.keys[key]
	if !ok {
		// cannot fail without metrics
		ids, _ = buffer.NewCircularBuffer[string](ix.perKey)
		ix.keys[key] = ids
	}
	_ = ids.Write(eventID)
}

func (ix *index) ids(key string) []string {
	ids, ok := ix.keys[key]
	if !ok {
		return nil
	}
	return ids.Items()
}

func (ix *index) size() int {
	return len(ix.keys)
}
