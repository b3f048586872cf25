package libbus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	libbus "github.com/contenox/relay/libbus"
	"github.com/stretchr/testify/require"
)

func TestUnit_InMemStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ps := libbus.NewInMem()
	defer ps.Close()

	ch := make(chan []byte, 1)
	sub, err := ps.Stream(ctx, "rooms.general", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, ps.Publish(ctx, "rooms.general", []byte("hello")))

	select {
	case got := <-ch:
		require.Equal(t, []byte("hello"), got)
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestUnit_InMemUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()

	ps := libbus.NewInMem()
	defer ps.Close()

	ch := make(chan []byte, 1)
	sub, err := ps.Stream(ctx, "rooms.general", ch)
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, ps.Publish(ctx, "rooms.general", []byte("dropped")))

	select {
	case <-ch:
		t.Fatal("received message after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnit_InMemRequestReply(t *testing.T) {
	ctx := context.Background()

	ps := libbus.NewInMem()
	defer ps.Close()

	sub, err := ps.Serve(ctx, "echo", func(_ context.Context, data []byte) ([]byte, error) {
		return data, nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	reply, err := ps.Request(ctx, "echo", []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), reply)
}

func TestUnit_InMemRequestWithoutHandler(t *testing.T) {
	ps := libbus.NewInMem()
	defer ps.Close()

	_, err := ps.Request(context.Background(), "nobody.home", []byte("ping"))
	require.ErrorIs(t, err, libbus.ErrRequestTimeout)
}

func TestUnit_InMemHandlerError(t *testing.T) {
	ctx := context.Background()

	ps := libbus.NewInMem()
	defer ps.Close()

	boom := errors.New("boom")
	sub, err := ps.Serve(ctx, "fail", func(_ context.Context, _ []byte) ([]byte, error) {
		return nil, boom
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = ps.Request(ctx, "fail", []byte("x"))
	require.ErrorIs(t, err, boom)
}

func TestUnit_InMemClosed(t *testing.T) {
	ps := libbus.NewInMem()
	require.NoError(t, ps.Close())

	err := ps.Publish(context.Background(), "x", []byte("y"))
	require.ErrorIs(t, err, libbus.ErrConnectionClosed)

	_, err = ps.Stream(context.Background(), "x", make(chan []byte, 1))
	require.ErrorIs(t, err, libbus.ErrConnectionClosed)
}

func TestUnit_InMemCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ps := libbus.NewInMem()
	defer ps.Close()

	err := ps.Publish(ctx, "x", []byte("y"))
	require.ErrorIs(t, err, context.Canceled)

	_, err = ps.Stream(ctx, "x", make(chan []byte, 1))
	require.ErrorIs(t, err, context.Canceled)
}
