package dispatch

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luhtfiimanal/serialhub/payload"
)

var status = payload.CarStatus{Source: "car", LeftSpeed: 120, RightSpeed: -40, IsMoving: true, Timestamp: 1000}

func TestDispatch_SubscriptionOrder(t *testing.T) {
	d := New()
	var order []string

	_, err := d.Subscribe(payload.KindCarStatus, func(p payload.Payload) error {
		order = append(order, "first")
		return nil
	})
	require.NoError(t, err)
	_, err = d.Subscribe(payload.KindCarStatus, func(p payload.Payload) error {
		order = append(order, "second")
		return nil
	})
	require.NoError(t, err)

	rep := d.Dispatch(status)
	require.NoError(t, rep.Err())
	assert.Equal(t, 2, rep.Delivered)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatch_OnlyMatchingKind(t *testing.T) {
	d := New()
	var gestures, cars int
	_, _ = Listen(d, func(payload.GestureSample) error { gestures++; return nil })
	_, _ = Listen(d, func(payload.CarStatus) error { cars++; return nil })

	d.Dispatch(payload.GestureSample{})
	d.Dispatch(payload.GestureSample{})
	d.Dispatch(status)

	assert.Equal(t, 2, gestures)
	assert.Equal(t, 1, cars)
}

func TestDispatch_NoSubscribers(t *testing.T) {
	d := New()
	rep := d.Dispatch(status)
	assert.Equal(t, 0, rep.Delivered)
	assert.NoError(t, rep.Err())
	assert.Equal(t, uint64(1), d.Stats().Undelivered)
}

func TestDispatch_NilPayloadIgnored(t *testing.T) {
	d := New()
	called := false
	_, err := d.Subscribe(payload.KindUnclassified, func(payload.Payload) error { called = true; return nil })
	require.NoError(t, err)

	var rep Report
	assert.NotPanics(t, func() { rep = d.Dispatch(nil) })
	assert.Equal(t, 0, rep.Delivered)
	assert.NoError(t, rep.Err())
	assert.False(t, called)
	assert.Equal(t, uint64(0), d.Stats().Rounds)
}

func TestDispatch_UnsubscribeMidRound(t *testing.T) {
	d := New()
	var calls []string
	removed := false

	_, err := d.Subscribe(payload.KindCarStatus, func(payload.Payload) error {
		calls = append(calls, "a")
		return nil
	})
	require.NoError(t, err)
	third, err := d.Subscribe(payload.KindCarStatus, func(payload.Payload) error {
		calls = append(calls, "c")
		return nil
	})
	require.NoError(t, err)
	_, err = d.Subscribe(payload.KindCarStatus, func(payload.Payload) error {
		calls = append(calls, "b")
		if removed {
			return nil
		}
		removed = true
		return d.Unsubscribe(third)
	})
	require.NoError(t, err)

	rep := d.Dispatch(status)
	require.NoError(t, rep.Err())
	assert.Equal(t, []string{"a", "c", "b"}, calls, "c ran before it was removed")

	calls = nil
	rep = d.Dispatch(status)
	require.NoError(t, rep.Err())
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestDispatch_UnsubscribeLaterSubscriberSkipped(t *testing.T) {
	d := New()
	var calls []string
	var later Handle

	_, err := d.Subscribe(payload.KindCarStatus, func(payload.Payload) error {
		calls = append(calls, "remover")
		if !later.IsZero() {
			return d.Unsubscribe(later)
		}
		return nil
	})
	require.NoError(t, err)
	later, err = d.Subscribe(payload.KindCarStatus, func(payload.Payload) error {
		calls = append(calls, "later")
		return nil
	})
	require.NoError(t, err)

	d.Dispatch(status)
	assert.Equal(t, []string{"remover"}, calls, "removed subscriber must not run after removal")
	assert.Equal(t, 1, d.Len(payload.KindCarStatus))
}

func TestDispatch_SubscribeDuringRound(t *testing.T) {
	d := New()
	var added int
	_, err := d.Subscribe(payload.KindGesture, func(payload.Payload) error {
		_, err := d.Subscribe(payload.KindGesture, func(payload.Payload) error {
			added++
			return nil
		})
		return err
	})
	require.NoError(t, err)

	rep := d.Dispatch(payload.GestureSample{})
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, 0, added, "new subscriber joins on the next round")

	d.Dispatch(payload.GestureSample{})
	assert.Equal(t, 1, added)
}

func TestDispatch_CallbackFailureIsolated(t *testing.T) {
	d := New()
	boom := errors.New("boom")
	var reached []int

	failing, err := d.Subscribe(payload.KindCarStatus, func(payload.Payload) error { return boom })
	require.NoError(t, err)
	panicking, err := d.Subscribe(payload.KindCarStatus, func(payload.Payload) error { panic("bad consumer") })
	require.NoError(t, err)
	_, err = d.Subscribe(payload.KindCarStatus, func(payload.Payload) error {
		reached = append(reached, 3)
		return nil
	})
	require.NoError(t, err)

	rep := d.Dispatch(status)
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, []int{3}, reached)
	require.Len(t, rep.Failures, 2)

	assert.Equal(t, failing, rep.Failures[0].Handle)
	assert.True(t, errors.Is(rep.Failures[0], boom))
	assert.Equal(t, panicking, rep.Failures[1].Handle)
	assert.Contains(t, rep.Failures[1].Error(), "bad consumer")

	err = rep.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCallbackFailed)
	assert.ErrorIs(t, err, boom)

	st := d.Stats()
	assert.Equal(t, uint64(2), st.Failed)
	assert.Equal(t, uint64(1), st.Delivered)
	assert.Equal(t, 3, st.Subscribers)
}

func TestUnsubscribe_Errors(t *testing.T) {
	d := New()
	h, err := d.Subscribe(payload.KindGesture, func(payload.Payload) error { return nil })
	require.NoError(t, err)

	require.NoError(t, d.Unsubscribe(h))
	assert.True(t, errors.Is(d.Unsubscribe(h), ErrUnknownHandle))
	assert.True(t, errors.Is(d.Unsubscribe(Handle{}), ErrUnknownHandle))
	assert.Equal(t, 0, d.Len(payload.KindGesture))
}

func TestSubscribe_NilHandler(t *testing.T) {
	d := New()
	_, err := d.Subscribe(payload.KindGesture, nil)
	assert.True(t, errors.Is(err, ErrNilHandler))

	_, err = Listen[payload.GestureSample](d, nil)
	assert.True(t, errors.Is(err, ErrNilHandler))
}

func TestHandle_Accessors(t *testing.T) {
	d := New()
	h, err := Listen(d, func(payload.CarStatus) error { return nil })
	require.NoError(t, err)
	assert.False(t, h.IsZero())
	assert.Equal(t, payload.KindCarStatus, h.Kind())
	assert.Contains(t, h.String(), "car_status/")
}

func TestDispatcher_ConcurrentRegistry(t *testing.T) {
	d := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h, err := d.Subscribe(payload.KindGesture, func(payload.Payload) error { return nil })
				if err != nil {
					t.Error(err)
					return
				}
				d.Dispatch(payload.GestureSample{})
				if err := d.Unsubscribe(h); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, d.Len(payload.KindGesture))
	assert.Equal(t, uint64(800), d.Stats().Rounds)
}
