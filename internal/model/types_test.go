package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTagSet_SortedAndLookup(t *testing.T) {
	t.Parallel()

	s := NewTagSet(map[string]string{"zone": "a", "env": "prod", "": "ignored"})
	require.Equal(t, 2, s.Len())
	all := s.All()
	assert.Equal(t, "env", all[0].Key)
	assert.Equal(t, "zone", all[1].Key)

	v, ok := s.Get("env")
	require.True(t, ok)
	assert.Equal(t, "prod", v)
	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestTagSet_EqualIgnoresInsertionOrder(t *testing.T) {
	t.Parallel()

	a := NewTagSet(map[string]string{"a": "1", "b": "2"})
	b := NewTagSet(map[string]string{"b": "2", "a": "1"})
	c := NewTagSet(map[string]string{"a": "1", "b": "3"})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, (TagSet{}).Equal(NewTagSet(nil)), "empty sets should be equal")
}

func TestTagSet_FingerprintSeparatesKeysAndValues(t *testing.T) {
	t.Parallel()

	a := NewTagSet(map[string]string{"ab": "c"})
	b := NewTagSet(map[string]string{"a": "bc"})
	assert.False(t, a.Equal(b), "fingerprint collision between %v and %v", a.Map(), b.Map())
}

func TestRecord_ValueAndSize(t *testing.T) {
	t.Parallel()

	r := Record{
		Time:   time.Unix(1700000000, 0),
		Fields: []Field{{Key: "message", Value: "hello"}, {Key: "level", Value: "INFO"}},
	}
	v, ok := r.Value("level")
	require.True(t, ok)
	assert.Equal(t, "INFO", v)

	want := recordOverhead + len("message") + len("hello") + len("level") + len("INFO") + 2*fieldOverhead
	assert.Equal(t, want, r.Size())
}

func TestDestination_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "app", Destination{Logstore: "app"}.String())
	assert.Equal(t, "p/app", Destination{Project: "p", Logstore: "app"}.String())
}
