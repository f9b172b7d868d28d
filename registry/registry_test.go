package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modhost/filter"
)

type greeter struct{ name string }

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	low, err := r.Register(1, []string{"greeter"}, &greeter{"low"}, nil)
	require.NoError(t, err)
	high, err := r.Register(2, []string{"greeter", "named"}, &greeter{"high"}, map[string]any{PropRanking: 10})
	require.NoError(t, err)
	tie, err := r.Register(3, []string{"greeter"}, &greeter{"tie"}, map[string]any{PropRanking: 10})
	require.NoError(t, err)

	refs := r.References("greeter", nil)
	require.Len(t, refs, 3)
	assert.Equal(t, []*Reference{high.Reference(), tie.Reference(), low.Reference()}, refs)

	best, err := r.Best("greeter", nil)
	require.NoError(t, err)
	assert.Equal(t, high.Reference(), best)

	props := r.Properties(best)
	assert.Equal(t, best.ID(), props[PropID])
	assert.EqualValues(t, 2, props[PropOwner])
	assert.Equal(t, []string{"greeter", "named"}, props[PropObjectClass])
	assert.Equal(t, 10, r.Ranking(best))

	_, err = r.Best("missing", nil)
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestRegisterValidation(t *testing.T) {
	r := New()
	_, err := r.Register(1, nil, &greeter{}, nil)
	assert.ErrorIs(t, err, ErrNoInterfaces)
	_, err = r.Register(1, []string{"x"}, nil, nil)
	assert.ErrorIs(t, err, ErrNilService)
	_, err = r.Register(1, []string{"x"}, &greeter{}, map[string]any{PropID: 5})
	assert.ErrorIs(t, err, ErrReservedProperty)
}

func TestFilteredLookup(t *testing.T) {
	r := New()
	_, err := r.Register(1, []string{"db"}, "primary", map[string]any{"role": "primary"})
	require.NoError(t, err)
	_, err = r.Register(1, []string{"db"}, "replica", map[string]any{"role": "replica"})
	require.NoError(t, err)

	ref, err := r.Best("db", filter.MustCompile(`props.role == "replica"`))
	require.NoError(t, err)
	svc, err := r.GetService(9, ref)
	require.NoError(t, err)
	assert.Equal(t, "replica", svc)

	assert.Len(t, r.References("", filter.MustCompile(`"db" in props.objectClass`)), 2)
}

func TestServiceUsage(t *testing.T) {
	r := New()
	reg, err := r.Register(1, []string{"x"}, "svc", nil)
	require.NoError(t, err)
	ref := reg.Reference()

	_, err = r.GetService(5, ref)
	require.NoError(t, err)
	_, err = r.GetService(5, ref)
	require.NoError(t, err)
	_, err = r.GetService(6, ref)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6}, r.UsingModules(ref))
	assert.Equal(t, []*Reference{ref}, r.ServicesInUse(5))

	assert.True(t, r.UngetService(5, ref))
	assert.Equal(t, []int64{5, 6}, r.UsingModules(ref), "one use left")
	assert.True(t, r.UngetService(5, ref))
	assert.False(t, r.UngetService(5, ref))

	r.ReleaseAll(6)
	assert.Empty(t, r.UsingModules(ref))

	reg.Unregister()
	_, err = r.GetService(5, ref)
	assert.ErrorIs(t, err, ErrUnregistered)
	assert.ErrorIs(t, reg.SetProperties(nil), ErrUnregistered)
	reg.Unregister()
}

func TestListenerEvents(t *testing.T) {
	r := New()
	var events []EventType
	remove := r.AddListener("x", filter.MustCompile(`has(props.color) && props.color == "red"`), func(ev ServiceEvent) {
		events = append(events, ev.Type)
	})

	reg, err := r.Register(1, []string{"x"}, "svc", map[string]any{"color": "red"})
	require.NoError(t, err)
	_, err = r.Register(1, []string{"y"}, "other", map[string]any{"color": "red"})
	require.NoError(t, err)
	require.NoError(t, reg.SetProperties(map[string]any{"color": "red", "size": 2}))
	require.NoError(t, reg.SetProperties(map[string]any{"color": "blue"}))
	require.NoError(t, reg.SetProperties(map[string]any{"color": "green"}))
	require.NoError(t, reg.SetProperties(map[string]any{"color": "red"}))
	reg.Unregister()

	assert.Equal(t, []EventType{Registered, Modified, ModifiedEndMatch, Modified, Unregistering}, events)

	remove()
	_, err = r.Register(1, []string{"x"}, "svc", map[string]any{"color": "red"})
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func TestUnregisteringSeesService(t *testing.T) {
	r := New()
	var visible bool
	r.AddListener("", nil, func(ev ServiceEvent) {
		if ev.Type == Unregistering {
			_, err := r.GetService(2, ev.Reference)
			visible = err == nil
		}
	})
	reg, err := r.Register(1, []string{"x"}, "svc", nil)
	require.NoError(t, err)
	reg.Unregister()
	assert.True(t, visible)
	assert.Empty(t, r.References("x", nil))
}

func TestUnregisterAll(t *testing.T) {
	r := New()
	for range 3 {
		_, err := r.Register(7, []string{"x"}, "svc", nil)
		require.NoError(t, err)
	}
	_, err := r.Register(8, []string{"x"}, "svc", nil)
	require.NoError(t, err)
	assert.Len(t, r.RegisteredBy(7), 3)

	r.UnregisterAll(7)
	refs := r.References("x", nil)
	require.Len(t, refs, 1)
	assert.EqualValues(t, 8, refs[0].Owner())
}

func TestListenerPanicIsContained(t *testing.T) {
	r := New()
	r.AddListener("", nil, func(ServiceEvent) { panic("bad listener") })
	called := false
	r.AddListener("", nil, func(ServiceEvent) { called = true })
	_, err := r.Register(1, []string{"x"}, "svc", nil)
	require.NoError(t, err)
	assert.True(t, called)
}
