package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func testStats() SelectionStats {
	return SelectionStats{
		SceneID:       "local/1",
		TreeRevision:  1,
		InstanceCount: 3,
		BucketCounts:  []int32{2, 1},
		Duration:      time.Millisecond,
		Timestamp:     time.Now(),
	}
}

func TestForwarderValidateStats(t *testing.T) {
	var f Forwarder

	t.Run("valid stats pass", func(t *testing.T) {
		require.NoError(t, f.ValidateStats(testStats()))
	})

	t.Run("empty bucket counts pass", func(t *testing.T) {
		stats := testStats()
		stats.BucketCounts = nil
		require.NoError(t, f.ValidateStats(stats))
	})

	t.Run("missing scene id is rejected", func(t *testing.T) {
		stats := testStats()
		stats.SceneID = ""
		require.Error(t, f.ValidateStats(stats))
	})

	t.Run("missing timestamp is rejected", func(t *testing.T) {
		stats := testStats()
		stats.Timestamp = time.Time{}
		require.Error(t, f.ValidateStats(stats))
	})

	t.Run("negative bucket count is rejected", func(t *testing.T) {
		stats := testStats()
		stats.BucketCounts = []int32{4, -1}
		require.Error(t, f.ValidateStats(stats))
	})

	t.Run("mismatched bucket sum is rejected", func(t *testing.T) {
		stats := testStats()
		stats.InstanceCount = 7
		require.Error(t, f.ValidateStats(stats))
	})
}

type batchRecorder struct {
	mutex   sync.Mutex
	batches [][]SelectionStats
}

func (r *batchRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var batch []SelectionStats
	if err := json.Unmarshal(body, &batch); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *batchRecorder) batchCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.batches)
}

func (r *batchRecorder) lastBatch() []SelectionStats {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.batches) == 0 {
		return nil
	}
	return r.batches[len(r.batches)-1]
}

func TestForwarderHandleStats(t *testing.T) {
	t.Run("flushes a full batch", func(t *testing.T) {
		recorder := &batchRecorder{}
		server := httptest.NewServer(recorder)
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		f := Forwarder{
			Endpoint:      server.URL,
			StatsChan:     make(chan SelectionStats, 8),
			BatchSize:     2,
			FlushInterval: time.Hour,
			Client:        server.Client(),
		}
		f.HandleStats(ctx)

		f.StatsChan <- testStats()
		f.StatsChan <- testStats()

		require.Eventually(t, func() bool {
			return recorder.batchCount() == 1
		}, time.Second, time.Millisecond*10)
		require.Len(t, recorder.lastBatch(), 2)
		require.Equal(t, "local/1", recorder.lastBatch()[0].SceneID)
	})

	t.Run("flushes a partial batch on the interval", func(t *testing.T) {
		recorder := &batchRecorder{}
		server := httptest.NewServer(recorder)
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		f := Forwarder{
			Endpoint:      server.URL,
			StatsChan:     make(chan SelectionStats, 8),
			BatchSize:     100,
			FlushInterval: time.Millisecond * 10,
			Client:        server.Client(),
		}
		f.HandleStats(ctx)

		f.StatsChan <- testStats()

		require.Eventually(t, func() bool {
			return recorder.batchCount() == 1
		}, time.Second, time.Millisecond*10)
		require.Len(t, recorder.lastBatch(), 1)
	})

	t.Run("drops invalid stats", func(t *testing.T) {
		recorder := &batchRecorder{}
		server := httptest.NewServer(recorder)
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		f := Forwarder{
			Endpoint:      server.URL,
			StatsChan:     make(chan SelectionStats, 8),
			BatchSize:     1,
			FlushInterval: time.Hour,
			Client:        server.Client(),
		}
		f.HandleStats(ctx)

		invalid := testStats()
		invalid.SceneID = ""
		f.StatsChan <- invalid
		f.StatsChan <- testStats()

		require.Eventually(t, func() bool {
			return recorder.batchCount() == 1
		}, time.Second, time.Millisecond*10)
		require.Len(t, recorder.lastBatch(), 1)
		require.Equal(t, "local/1", recorder.lastBatch()[0].SceneID)
	})
}
