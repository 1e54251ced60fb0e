// Package tags merges sink-level static tags with per-event tags.
package tags

import (
	"log/slog"
	"sync"

	"github.com/tinytelemetry/slsink/internal/model"
)

// Merge overlays each event layer on top of static, in order. On key
// collision the later layer wins, so per-event context beats sink config.
func Merge(static model.TagSet, layers ...map[string]string) model.TagSet {
	n := 0
	for _, l := range layers {
		n += len(l)
	}
	if n == 0 {
		return static
	}
	merged := static.Map()
	for _, l := range layers {
		for k, v := range l {
			merged[k] = v
		}
	}
	return model.NewTagSet(merged)
}

// FromAttrs renders a tag group's attributes as tag key/values.
// Nested groups are flattened with "." like record fields.
func FromAttrs(attrs []slog.Attr) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	collect(out, "", attrs)
	return out
}

func collect(out map[string]string, prefix string, attrs []slog.Attr) {
	for _, a := range attrs {
		v := a.Value.Resolve()
		if v.Kind() == slog.KindGroup {
			next := prefix
			if a.Key != "" {
				next = prefix + a.Key + "."
			}
			collect(out, next, v.Group())
			continue
		}
		if a.Key == "" {
			continue
		}
		out[prefix+a.Key] = v.String()
	}
}

// maxCached bounds the merger cache; overlays are usually a handful of
// request-scoped combinations.
const maxCached = 1024

// Merger merges against a fixed static set and interns the results so
// records with the same overlay share one TagSet.
type Merger struct {
	static model.TagSet

	mu    sync.RWMutex
	cache map[string]model.TagSet
}

// NewMerger returns a Merger for the sink's static tags.
func NewMerger(static map[string]string) *Merger {
	return &Merger{
		static: model.NewTagSet(static),
		cache:  make(map[string]model.TagSet),
	}
}

// Static returns the sink-level tag set.
func (m *Merger) Static() model.TagSet { return m.static }

// Merge returns the static tags overlaid with layers; see Merge.
func (m *Merger) Merge(layers ...map[string]string) model.TagSet {
	merged := Merge(m.static, layers...)
	if merged.Equal(m.static) {
		return m.static
	}

	key := merged.Fingerprint()
	m.mu.RLock()
	cached, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return cached
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.cache[key]; ok {
		return cached
	}
	if len(m.cache) >= maxCached {
		m.cache = make(map[string]model.TagSet)
	}
	m.cache[key] = merged
	return merged
}
