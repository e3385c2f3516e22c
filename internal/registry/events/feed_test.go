package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed(t *testing.T) {
	ctx := context.Background()

	t.Run("returns newest events in creation order", func(t *testing.T) {
		feed := NewFeed(3)
		for i := 1; i <= 5; i++ {
			require.NoError(t, feed.Publish(ctx, Issued(uint64(i), testRecord(t, byte(i)))))
		}

		got := feed.Recent(10)
		require.Len(t, got, 3)
		assert.Equal(t, uint64(3), got[0].Sequence)
		assert.Equal(t, uint64(5), got[2].Sequence)
		assert.Equal(t, int64(2), feed.Dropped())
	})

	t.Run("limit selects the newest", func(t *testing.T) {
		feed := NewFeed(10)
		for i := 1; i <= 4; i++ {
			require.NoError(t, feed.Publish(ctx, Issued(uint64(i), testRecord(t, byte(i)))))
		}

		got := feed.Recent(2)
		require.Len(t, got, 2)
		assert.Equal(t, uint64(3), got[0].Sequence)
		assert.Equal(t, uint64(4), got[1].Sequence)
	})

	t.Run("redelivery of the newest event is ignored", func(t *testing.T) {
		feed := NewFeed(10)
		event := Issued(1, testRecord(t, 1))
		require.NoError(t, feed.Publish(ctx, event))
		require.NoError(t, feed.Publish(ctx, event))
		assert.Equal(t, 1, feed.Len())
	})

	t.Run("empty feed", func(t *testing.T) {
		assert.Empty(t, NewFeed(0).Recent(5))
	})
}
