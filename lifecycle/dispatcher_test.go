package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedDispatcher(t *testing.T, config *DispatchConfig) *Dispatcher {
	t.Helper()
	d := NewDispatcher(config)
	require.NoError(t, d.Start(context.Background()))
	return d
}

func TestDispatcherRequiresStart(t *testing.T) {
	d := NewDispatcher(nil)
	assert.False(t, d.IsRunning())
	assert.ErrorIs(t, d.Dispatch(context.Background(), NewEvent(EventTypeModuleStarted, 1, "a")), ErrDispatcherNotRunning)

	require.NoError(t, d.Start(context.Background()))
	assert.ErrorIs(t, d.Start(context.Background()), ErrDispatcherAlreadyRunning)
	require.NoError(t, d.Stop(context.Background()))
	require.NoError(t, d.Stop(context.Background()))
}

func TestDispatcherOrder(t *testing.T) {
	d := startedDispatcher(t, nil)
	var got []string
	record := func(id string) func(context.Context, *Event) error {
		return func(context.Context, *Event) error {
			got = append(got, id)
			return nil
		}
	}
	require.NoError(t, d.RegisterObserver(NewBasicObserver("low", nil, 0, record("low"))))
	require.NoError(t, d.RegisterObserver(NewBasicObserver("high", nil, 10, record("high"))))
	require.NoError(t, d.RegisterObserver(NewBasicObserver("low2", nil, 0, record("low2"))))
	require.NoError(t, d.RegisterObserver(NewBasicObserver("started-only", []EventType{EventTypeModuleStarted}, 5, record("started-only"))))

	require.NoError(t, d.Dispatch(context.Background(), NewEvent(EventTypeModuleInstalled, 1, "a")))
	assert.Equal(t, []string{"high", "low", "low2"}, got)

	got = nil
	require.NoError(t, d.Dispatch(context.Background(), NewEvent(EventTypeModuleStarted, 1, "a")))
	assert.Equal(t, []string{"high", "started-only", "low", "low2"}, got)

	require.NoError(t, d.UnregisterObserver("high"))
	assert.Len(t, d.GetObservers(), 3)
}

func TestDispatcherObserverFailures(t *testing.T) {
	d := startedDispatcher(t, &DispatchConfig{EnableMetrics: true})
	boom := errors.New("boom")
	reached := false
	require.NoError(t, d.RegisterObserver(NewBasicObserver("err", nil, 3, func(context.Context, *Event) error { return boom })))
	require.NoError(t, d.RegisterObserver(NewBasicObserver("panic", nil, 2, func(context.Context, *Event) error { panic("bad") })))
	require.NoError(t, d.RegisterObserver(NewBasicObserver("ok", nil, 1, func(context.Context, *Event) error {
		reached = true
		return nil
	})))

	err := d.Dispatch(context.Background(), NewEvent(EventTypeModuleResolved, 2, "b"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, reached, "later observers still run")

	m := d.Metrics()
	assert.EqualValues(t, 1, m.TotalEvents)
	assert.EqualValues(t, 1, m.ObserverErrors)
	assert.EqualValues(t, 1, m.ObserverPanics)
	assert.EqualValues(t, 1, m.EventsByType[EventTypeModuleResolved])
	assert.EqualValues(t, 3, m.ActiveObservers)
}

func TestDispatcherPersistence(t *testing.T) {
	d := startedDispatcher(t, &DispatchConfig{EnablePersistence: true, HistoryLimit: 2})
	require.NotNil(t, d.Store())
	ctx := context.Background()
	for _, et := range []EventType{EventTypeModuleInstalled, EventTypeModuleResolved, EventTypeModuleStarting} {
		require.NoError(t, d.Dispatch(ctx, NewEvent(et, 7, "m")))
	}
	history, err := d.Store().GetEventHistory(ctx, 7, time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 2, "oldest evicted")
	assert.Equal(t, EventTypeModuleResolved, history[0].Type)

	assert.Nil(t, NewDispatcher(nil).Store())
}
