package model

import (
	"sort"
	"strings"
	"time"
)

// Destination identifies where a batch is ingested remotely.
// It is comparable and used as a map key by the batch buffer.
type Destination struct {
	Project  string
	Logstore string
}

func (d Destination) String() string {
	if d.Project == "" {
		return d.Logstore
	}
	return d.Project + "/" + d.Logstore
}

// Field is one rendered key/value pair of a Record.
type Field struct {
	Key   string
	Value string
}

// recordOverhead approximates the protobuf framing cost of a record and its fields.
const (
	recordOverhead = 16
	fieldOverhead  = 6
)

// Record is the formatted form of one log event.
// It is immutable once created by a formatter.
type Record struct {
	Time   time.Time
	Fields []Field
	Tags   TagSet
}

// Value returns the value of the first field named key.
func (r Record) Value(key string) (string, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Size approximates the encoded size of the record in bytes.
func (r Record) Size() int {
	n := recordOverhead
	for _, f := range r.Fields {
		n += len(f.Key) + len(f.Value) + fieldOverhead
	}
	return n
}

// Tag is one key/value tag attached to an outgoing log group.
type Tag struct {
	Key   string
	Value string
}

// TagSet is an immutable set of tags with unique keys, kept sorted by key.
// The zero value is the empty set.
type TagSet struct {
	tags        []Tag
	fingerprint string
}

// NewTagSet builds a TagSet from m. Empty keys are ignored.
func NewTagSet(m map[string]string) TagSet {
	if len(m) == 0 {
		return TagSet{}
	}
	tags := make([]Tag, 0, len(m))
	for k, v := range m {
		if k == "" {
			continue
		}
		tags = append(tags, Tag{Key: k, Value: v})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return TagSet{tags: tags, fingerprint: fingerprintOf(tags)}
}

func fingerprintOf(tags []Tag) string {
	if len(tags) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range tags {
		b.WriteString(t.Key)
		b.WriteByte(0)
		b.WriteString(t.Value)
		b.WriteByte(0)
	}
	return b.String()
}

// Len returns the number of tags.
func (s TagSet) Len() int { return len(s.tags) }

// Get returns the value for key.
func (s TagSet) Get(key string) (string, bool) {
	i := sort.Search(len(s.tags), func(i int) bool { return s.tags[i].Key >= key })
	if i < len(s.tags) && s.tags[i].Key == key {
		return s.tags[i].Value, true
	}
	return "", false
}

// All returns the tags sorted by key. The caller must not modify the slice.
func (s TagSet) All() []Tag { return s.tags }

// Map returns a copy of the set as a map.
func (s TagSet) Map() map[string]string {
	m := make(map[string]string, len(s.tags))
	for _, t := range s.tags {
		m[t.Key] = t.Value
	}
	return m
}

// Fingerprint is a stable identity for the set's contents.
func (s TagSet) Fingerprint() string { return s.fingerprint }

// Equal reports whether both sets hold the same tags.
func (s TagSet) Equal(o TagSet) bool { return s.fingerprint == o.fingerprint }

// FlushReason records which threshold sealed a batch.
type FlushReason string

const (
	FlushSize     FlushReason = "size"
	FlushBytes    FlushReason = "bytes"
	FlushLinger   FlushReason = "linger"
	FlushTags     FlushReason = "tags"
	FlushManual   FlushReason = "flush"
	FlushShutdown FlushReason = "shutdown"
)

// Batch is an ordered group of records for one destination, sent in one call.
// Ownership passes from the buffer to the dispatcher when the batch is sealed.
type Batch struct {
	Destination Destination
	Tags        TagSet
	Records     []Record
	Bytes       int
	ReadyAt     time.Time
	Reason      FlushReason
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int { return len(b.Records) }
