package subscription

// itemCursor is the resumable round-robin position left behind by a gather
// pass that stopped before exhausting the working set. It holds a snapshot
// of item ids, never live MonitoredItem references, so it cannot dangle if
// remove_items were ever to run concurrently.
type itemCursor struct {
	ids []uint32
}

func (c *itemCursor) remaining() []uint32 {
	if c == nil {
		return nil
	}
	return c.ids
}

// registry is the read-only view gather needs over a subscription's
// MonitoredItems: lookup by id plus the insertion order to walk when the
// saved cursor is empty or exhausted.
type registry interface {
	lookup(id uint32) (MonitoredItem, bool)
	order() []uint32
}

// gatherResult is the outcome of one gather pass.
type gatherResult struct {
	buf        *GatherBuffer
	nextCursor *itemCursor
}

// gather builds a deduplicated, insertion-ordered working
// set (saved cursor first, then any item with pending notifications not
// already present), then round-robins through it one notification at a
// time until either the response buffer reaches maxNotifications or every
// item in the set is exhausted. Round-robin, rather than draining each item
// to its full share before moving to the next, is what delivers the
// no-starvation property: a single prolific item can never monopolize a
// whole publish while a quieter sibling waits its turn.
func gather(reg registry, cur *itemCursor, maxNotifications int) gatherResult {
	working, ids := buildWorkingSet(reg, cur)

	buf := &GatherBuffer{}
	active := make([]uint32, len(ids))
	copy(active, ids)

	for len(active) > 0 && buf.Len() < maxNotifications {
		id := active[0]
		active = active[1:]

		item, ok := working[id]
		if !ok {
			// Item vanished between working-set construction and drain
			// (cannot happen since a subscription's single mutex keeps
			// item registration and draining mutually exclusive, but
			// skipping rather than panicking keeps gather total).
			continue
		}

		drained := item.Drain(buf, 1)
		if !drained {
			active = append(active, id) // still has more: back of the rotation
		}
	}

	result := gatherResult{buf: buf}
	if len(active) > 0 {
		result.nextCursor = &itemCursor{ids: active}
	}
	return result
}

// buildWorkingSet forms the deduplicated, insertion-ordered working set:
// the saved cursor's residual items first, then every registry item with
// pending notifications not already included.
func buildWorkingSet(reg registry, cur *itemCursor) (map[uint32]MonitoredItem, []uint32) {
	working := make(map[uint32]MonitoredItem)
	ids := make([]uint32, 0)
	seen := make(map[uint32]bool)

	for _, id := range cur.remaining() {
		item, ok := reg.lookup(id)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		working[id] = item
		ids = append(ids, id)
	}

	for _, id := range reg.order() {
		if seen[id] {
			continue
		}
		item, ok := reg.lookup(id)
		if !ok {
			continue
		}
		if item.HasNotifications() || item.IsTriggered() {
			seen[id] = true
			working[id] = item
			ids = append(ids, id)
		}
	}

	return working, ids
}
