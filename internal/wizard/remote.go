package wizard

import (
	"context"
	"log"
	"slices"
	"time"

	"avatarstudio/api/internal/feed"
)

// handleChange merges a change made by another session. Remote field values
// always replace the saved snapshot; they replace the working copy only for
// fields this session has not edited. Fields edited on both sides are
// reported as conflicts and the local edit wins on the next save.
func (c *Controller) handleChange(change feed.Change) {
	if change.Origin == c.id {
		return
	}
	switch change.Kind {
	case feed.KindDocuments:
		if c.Closed() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.ledger.Refresh(ctx); err != nil {
			log.Printf("wizard: refresh documents for %s: %v", c.id, err)
		}
	case feed.KindProfile:
		if change.Fields == nil {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed.Load() {
			return
		}
		dirty := c.dirtyFieldsLocked()
		remote := *change.Fields
		var clean, contested []string
		for _, field := range remote.Fields() {
			if slices.Contains(dirty, field) {
				contested = append(contested, field)
				continue
			}
			clean = append(clean, field)
		}
		remote.ApplyTo(&c.snapshot)
		remote.Only(clean...).ApplyTo(&c.working)

		stillDirty := c.dirtyFieldsLocked()
		for _, field := range contested {
			if slices.Contains(stillDirty, field) && !slices.Contains(c.conflicts, field) {
				c.conflicts = append(c.conflicts, field)
			}
		}
	}
}
