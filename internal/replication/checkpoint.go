package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syntrixbase/syntrix-offline/internal/core/storage/types"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// CheckpointPrefix is the id prefix of checkpoint documents in the target.
const CheckpointPrefix = model.LocalPrefix + "replication/"

// Policy defines when to save checkpoints.
type Policy struct {
	// Time-based: checkpoint every interval
	Interval time.Duration `yaml:"interval"`

	// Event-based: checkpoint every N changes
	EventCount int `yaml:"event_count"`
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		Interval:   time.Second,
		EventCount: 100,
	}
}

// tracker decides when to save checkpoints based on policy.
type tracker struct {
	policy         Policy
	lastCheckpoint time.Time
	eventsSince    int
}

func newTracker(policy Policy) *tracker {
	return &tracker{policy: policy, lastCheckpoint: time.Now()}
}

// record records a change and reports whether a checkpoint is due.
func (t *tracker) record() bool {
	t.eventsSince++
	if t.policy.EventCount > 0 && t.eventsSince >= t.policy.EventCount {
		return true
	}
	return t.policy.Interval > 0 && time.Since(t.lastCheckpoint) >= t.policy.Interval
}

func (t *tracker) reset() {
	t.eventsSince = 0
	t.lastCheckpoint = time.Now()
}

// checkpoints persists the source position as a local document in the target.
type checkpoints struct {
	store types.IndexedStore
	id    string
}

func newCheckpoints(store types.IndexedStore, name string) *checkpoints {
	return &checkpoints{store: store, id: CheckpointPrefix + name}
}

// load returns the saved position, or nil when none exists.
func (c *checkpoints) load(ctx context.Context) (interface{}, error) {
	doc, err := c.store.Get(ctx, c.id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	seq, _ := doc.Field("seq")
	return seq, nil
}

func (c *checkpoints) save(ctx context.Context, seq interface{}) error {
	res, err := c.store.Put(ctx, &model.Document{
		ID:      c.id,
		Payload: map[string]interface{}{"seq": seq, "updated_at": time.Now().UnixMilli()},
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if !res.OK {
		return &model.ValidationError{Op: "save checkpoint", ID: c.id}
	}
	return nil
}
