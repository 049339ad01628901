package dispatcher

import (
	"context"
	"testing"

	"github.com/jobport-labs/chatsync/internal/event"
	"github.com/jobport-labs/chatsync/pkg/logger"
	"github.com/jobport-labs/chatsync/pkg/xcontext"

	"github.com/stretchr/testify/require"
)

func testCtx() context.Context {
	return xcontext.WithLogger(context.Background(), logger.NewLogger(logger.SILENCE))
}

func envelope(op string) *event.Request {
	return &event.Request{Op: op}
}

func TestDispatch(t *testing.T) {
	t.Run("handlers run in subscription order", func(t *testing.T) {
		d := New()

		var order []string
		d.Subscribe("message_created", func(context.Context, *event.Request) { order = append(order, "first") })
		d.Subscribe("message_created", func(context.Context, *event.Request) { order = append(order, "second") })
		d.Subscribe("typing_started", func(context.Context, *event.Request) { order = append(order, "other") })

		d.Dispatch(testCtx(), envelope("message_created"))
		require.Equal(t, []string{"first", "second"}, order)
	})

	t.Run("no subscriber drops the event", func(t *testing.T) {
		d := New()
		d.Dispatch(testCtx(), envelope("message_created")) // must not panic
	})

	t.Run("unsubscribe is idempotent", func(t *testing.T) {
		d := New()

		calls := 0
		remove := d.Subscribe("message_created", func(context.Context, *event.Request) { calls++ })

		d.Dispatch(testCtx(), envelope("message_created"))
		remove()
		remove()
		d.Dispatch(testCtx(), envelope("message_created"))

		require.Equal(t, 1, calls)
	})

	t.Run("unsubscribe from within a handler", func(t *testing.T) {
		d := New()

		var removeSecond func()
		var calls []string

		d.Subscribe("message_created", func(context.Context, *event.Request) {
			calls = append(calls, "first")
			removeSecond()
		})
		removeSecond = d.Subscribe("message_created", func(context.Context, *event.Request) {
			calls = append(calls, "second")
		})

		d.Dispatch(testCtx(), envelope("message_created"))
		d.Dispatch(testCtx(), envelope("message_created"))

		// The second handler never runs: it was removed by the first
		// handler before its turn.
		require.Equal(t, []string{"first", "first"}, calls)
	})

	t.Run("handler can remove itself", func(t *testing.T) {
		d := New()

		calls := 0
		var removeSelf func()
		removeSelf = d.Subscribe("message_created", func(context.Context, *event.Request) {
			calls++
			removeSelf()
		})

		d.Dispatch(testCtx(), envelope("message_created"))
		d.Dispatch(testCtx(), envelope("message_created"))
		require.Equal(t, 1, calls)
	})

	t.Run("missing op is rejected", func(t *testing.T) {
		d := New()
		called := false
		d.Subscribe("", func(context.Context, *event.Request) { called = true })
		d.Dispatch(testCtx(), envelope(""))
		d.Dispatch(testCtx(), nil)
		require.False(t, called)
	})
}
