package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiranui/newsdigest/internal/queue"
)

func TestConsumeDrainsQueueUntilClose(t *testing.T) {
	q := queue.NewMemory(8)
	body, err := json.Marshal(ingestContext())
	require.NoError(t, err)
	require.NoError(t, q.Publish(context.Background(), body))
	require.NoError(t, q.Publish(context.Background(), []byte("not json")))
	require.NoError(t, q.Publish(context.Background(), body))
	q.Close()

	fetcher := &fakeFetcher{pages: map[string][]byte{articleURL: []byte(articlePage)}}
	st := newFakeStore()
	w := newTestWorker(fetcher, st, nil, nil, WorkerOptions{})

	require.NoError(t, Consume(context.Background(), q, w))

	// First message stores the item, the second is malformed and skipped,
	// the third hits the duplicate check.
	assert.Len(t, st.puts, 1)
	assert.Len(t, fetcher.calls, 1)
}
