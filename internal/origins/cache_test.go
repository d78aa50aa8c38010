package origins

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/oauthd/internal/store"
)

func TestCacheLoadAndLookup(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	_, err := mem.AddOrigin(ctx, "https://a.test")
	require.NoError(t, err)

	c := New(mem, zerolog.Nop())
	require.NoError(t, c.Load(ctx))

	require.True(t, c.Allowed("https://a.test"))
	require.False(t, c.Allowed("https://b.test"))
}

func TestCacheApplyEvents(t *testing.T) {
	c := New(store.NewMemory(), zerolog.Nop())

	c.apply(Event{Origin: "https://a.test"})
	require.True(t, c.Allowed("https://a.test"))

	c.apply(Event{Origin: "https://a.test", Removed: true})
	require.False(t, c.Allowed("https://a.test"))
}

func TestCacheRunConsumesEventsAndRefreshes(t *testing.T) {
	mem := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(mem, zerolog.Nop())
	go c.Run(ctx, 10*time.Millisecond)

	// mutations go through the store first, then the event queue,
	// the same order the admin handlers use
	_, err := mem.AddOrigin(ctx, "https://a.test")
	require.NoError(t, err)
	c.Apply(Event{Origin: "https://a.test"})
	require.Eventually(t, func() bool {
		return c.Allowed("https://a.test")
	}, time.Second, 5*time.Millisecond)

	// out-of-band store mutation is picked up by the periodic refresh
	_, err = mem.AddOrigin(ctx, "https://b.test")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return c.Allowed("https://b.test")
	}, time.Second, 5*time.Millisecond)
}
