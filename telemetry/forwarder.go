package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/segmentio/encoding/json"
)

const (
	defaultBatchSize     = 32
	defaultFlushInterval = time.Second * 5
)

// SelectionStats is one LOD selection observation, forwarded so capacity
// planning can see how dense scene selections run.
type SelectionStats struct {
	SceneID       string        `json:"scene_id"`
	AppKey        string        `json:"app_key,omitempty"`
	TreeRevision  uint64        `json:"tree_revision"`
	InstanceCount int32         `json:"instance_count"`
	BucketCounts  []int32       `json:"bucket_counts,omitempty"`
	Duration      time.Duration `json:"duration"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Forwarder batches selection stats and posts them to the telemetry
// collector.
type Forwarder struct {
	// The telemetry collector endpoint batches are posted to.
	Endpoint string

	// The channel stats are consumed from.
	StatsChan chan SelectionStats //buffered

	// BatchSize caps how many stats one post carries.
	BatchSize int

	// FlushInterval bounds how long a partial batch waits before it is
	// posted anyway.
	FlushInterval time.Duration

	// Client is the HTTP client used to post batches. Defaults to
	// http.DefaultClient.
	Client *http.Client
}

// HandleStats consumes, validates and forwards stats until the context is
// canceled.
func (f Forwarder) HandleStats(ctx context.Context) {
	batchSize := f.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	flushInterval := f.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	go func() {
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()

		batch := make([]SelectionStats, 0, batchSize)

		flush := func() {
			if len(batch) == 0 {
				return
			}
			f.Forward(ctx, batch)
			batch = make([]SelectionStats, 0, batchSize)
		}

		for {
			select {
			case <-ctx.Done():
				return

			case stats := <-f.StatsChan:
				if err := instrumentStatsValidation(func() error {
					return f.ValidateStats(stats)
				}); err != nil {
					logs.Warn(errors.New("invalid selection stats").
						WithTag("scene_id", stats.SceneID).
						WithTag("tree_revision", stats.TreeRevision).
						Wrap(err))
					continue
				}

				batch = append(batch, stats)
				if len(batch) >= batchSize {
					flush()
				}

			case <-ticker.C:
				flush()
			}
		}
	}()
}

// Forward posts a batch to the collector without blocking the consume
// loop.
func (f Forwarder) Forward(ctx context.Context, batch []SelectionStats) {
	go func() {
		if err := instrumentStatsSend(f.Endpoint, len(batch), func() error {
			return f.post(ctx, batch)
		}); err != nil {
			logs.Warn(errors.New("forwarding selection stats failed").
				WithTag("endpoint", f.Endpoint).
				Wrap(err))
		}
	}()
}

// ValidateStats rejects stats that would poison collector aggregates.
func (f Forwarder) ValidateStats(stats SelectionStats) error {
	if stats.SceneID == "" {
		return errors.New("missing scene id")
	}

	if stats.Timestamp.IsZero() {
		return errors.New("missing timestamp")
	}

	var sum int32
	for _, c := range stats.BucketCounts {
		if c < 0 {
			return errors.New("negative bucket count").
				WithTag("scene_id", stats.SceneID)
		}
		sum += c
	}
	if len(stats.BucketCounts) != 0 && sum != stats.InstanceCount {
		return errors.New("bucket counts do not sum to the instance count").
			WithTag("scene_id", stats.SceneID).
			WithTag("instance_count", stats.InstanceCount).
			WithTag("bucket_sum", sum)
	}

	return nil
}

func (f Forwarder) post(ctx context.Context, batch []SelectionStats) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return errors.New("encoding stats batch failed").Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.New("creating collector request failed").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	res, err := client.Do(req)
	if err != nil {
		return errors.New("posting stats batch failed").Wrap(err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return errors.New("collector refused stats batch").
			WithTag("status", res.StatusCode)
	}
	return nil
}
