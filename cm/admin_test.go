package cm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateAndDelete(t *testing.T) {
	a := New()
	var events []Event
	remove := a.AddListener(func(ev Event) { events = append(events, ev) })

	require.NoError(t, a.Update("com.acme.db", map[string]any{"url": "mem://"}))
	require.NoError(t, a.Update("com.acme.db", map[string]any{"url": "mem://2"}))

	c, ok := a.Get("com.acme.db")
	require.True(t, ok)
	assert.EqualValues(t, 2, c.ChangeCount)
	assert.Equal(t, "mem://2", c.Properties["url"])
	assert.Equal(t, "com.acme.db", c.Properties[PropPID])
	assert.Empty(t, c.FactoryPID)

	require.NoError(t, a.Delete("com.acme.db"))
	assert.ErrorIs(t, a.Delete("com.acme.db"), ErrNotFound)

	require.Len(t, events, 3)
	assert.Equal(t, Updated, events[0].Type)
	assert.Equal(t, Deleted, events[2].Type)
	assert.Nil(t, events[2].Configuration.Properties)

	remove()
	require.NoError(t, a.Update("x", nil))
	assert.Len(t, events, 3)
}

func TestSnapshotsAreCopies(t *testing.T) {
	a := New()
	props := map[string]any{"k": "v"}
	require.NoError(t, a.Update("p", props))
	props["k"] = "changed"

	c, _ := a.Get("p")
	c.Properties["k"] = "mutated"
	again, _ := a.Get("p")
	assert.Equal(t, "v", again.Properties["k"])
}

func TestFactoryConfigurations(t *testing.T) {
	a := New()
	pid, err := a.CreateFactoryConfiguration("worker", "b", map[string]any{"n": 2})
	require.NoError(t, err)
	assert.Equal(t, "worker~b", pid)
	_, err = a.CreateFactoryConfiguration("worker", "a", nil)
	require.NoError(t, err)
	require.NoError(t, a.Update("other", nil))

	got := a.Factory("worker")
	require.Len(t, got, 2)
	assert.Equal(t, "worker~a", got[0].PID)
	assert.Equal(t, "worker", got[1].Properties[PropFactoryPID])
	assert.Len(t, a.List(), 3)

	for _, bad := range []string{"", " ", "~x", "x~", "a~b~c"} {
		assert.ErrorIs(t, a.Update(bad, nil), ErrInvalidPID, bad)
	}
}

func TestDictionaryAccessors(t *testing.T) {
	d := Dictionary{
		"s":        "text",
		"i":        42,
		"i64":      int64(7),
		"f":        float64(3),
		"istr":     "12",
		"b":        true,
		"bstr":     "true",
		"dur":      "1500ms",
		"durms":    250,
		"list":     []any{"a", 1},
		"single":   "one",
		"notanint": "x",
	}

	s, ok := d.String("i")
	assert.True(t, ok)
	assert.Equal(t, "42", s)

	for key, want := range map[string]int{"i": 42, "i64": 7, "f": 3, "istr": 12} {
		n, ok := d.Int(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, n, key)
	}
	_, ok = d.Int("notanint")
	assert.False(t, ok)

	b, ok := d.Bool("bstr")
	assert.True(t, ok)
	assert.True(t, b)

	dur, ok := d.Duration("dur")
	assert.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, dur)
	dur, ok = d.Duration("durms")
	assert.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, dur)

	list, ok := d.Strings("list")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "1"}, list)
	list, _ = d.Strings("single")
	assert.Equal(t, []string{"one"}, list)

	_, ok = d.String("missing")
	assert.False(t, ok)
}
