package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/willibrandon/vksnap/pkg/decoder"
	"github.com/willibrandon/vksnap/pkg/monitor"
	"github.com/willibrandon/vksnap/pkg/reconstruction"
	"github.com/willibrandon/vksnap/pkg/replay"
	"github.com/willibrandon/vksnap/pkg/version"
)

// metaSuffix marks the id of a checkpoint's metadata blob
const metaSuffix = ".meta"

// Checkpoint describes a saved engine state that can be restored
type Checkpoint struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Handles   int       `json:"handles"`
	Traces    int       `json:"traces"`
	Bytes     int64     `json:"bytes"`
	Version   string    `json:"version"`
}

// String returns a human-readable representation of the checkpoint
func (c *Checkpoint) String() string {
	return fmt.Sprintf("Checkpoint{ID: %s, Handles: %d, Traces: %d, Bytes: %d, Time: %s}",
		c.ID, c.Handles, c.Traces, c.Bytes, c.Timestamp.Format(time.RFC3339))
}

// Checkpoints saves engines into a store under generated ids
type Checkpoints struct {
	store Store
	now   func() time.Time
}

// NewCheckpoints creates a checkpoint manager over s
func NewCheckpoints(s Store) *Checkpoints {
	return &Checkpoints{store: s, now: time.Now}
}

// Save writes the engine state and its metadata. The session must be
// quiesced.
func (c *Checkpoints) Save(ctx context.Context, e *reconstruction.Engine) (*Checkpoint, error) {
	var buf bytes.Buffer
	n, err := e.Save(&buf)
	if err != nil {
		return nil, err
	}
	stats := e.Stats()
	cp := &Checkpoint{
		ID:        uuid.NewString(),
		Timestamp: c.now().UTC(),
		Handles:   stats.LiveHandles,
		Traces:    stats.Traces,
		Bytes:     n,
		Version:   version.GetVersion(),
	}
	if err := c.store.Put(ctx, cp.ID, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", cp.ID, err)
	}
	meta, err := json.Marshal(cp)
	if err != nil {
		return nil, err
	}
	if err := c.store.Put(ctx, cp.ID+metaSuffix, meta); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", cp.ID, err)
	}
	return cp, nil
}

// Get returns the metadata of a checkpoint
func (c *Checkpoints) Get(ctx context.Context, id string) (*Checkpoint, error) {
	data, err := c.store.Get(ctx, id+metaSuffix)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

// List returns the metadata of every checkpoint, oldest first
func (c *Checkpoints) List(ctx context.Context) ([]*Checkpoint, error) {
	ids, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Checkpoint
	for _, id := range ids {
		if !strings.HasSuffix(id, metaSuffix) {
			continue
		}
		cp, err := c.Get(ctx, strings.TrimSuffix(id, metaSuffix))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Restore loads a checkpoint into e, replaying it through dec
func (c *Checkpoints) Restore(ctx context.Context, id string, e *reconstruction.Engine, dec decoder.Decoder, logger *slog.Logger, hm monitor.HealthMonitor) (*replay.Result, error) {
	data, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Load(ctx, bytes.NewReader(data), dec, logger, hm)
}

// Delete removes a checkpoint and its metadata
func (c *Checkpoints) Delete(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	return c.store.Delete(ctx, id+metaSuffix)
}
