package discovery

import (
	"sort"
	"sync"
	"time"

	"lancast/internal/core/domain"
)

type tableEntry struct {
	device   domain.Device
	sequence uint32
}

// deviceTable is the live set of peers, keyed by device id. Entries
// that stop announcing are swept out after the TTL.
type deviceTable struct {
	mu      sync.Mutex
	entries map[domain.DeviceID]*tableEntry
	now     func() time.Time
}

func newDeviceTable() *deviceTable {
	return &deviceTable{
		entries: make(map[domain.DeviceID]*tableEntry),
		now:     time.Now,
	}
}

// Touch refreshes the last-seen time of a known peer and reports
// whether its metadata sequence moved, meaning a refetch is due. The
// second return is false for peers not in the table yet.
func (t *deviceTable) Touch(id domain.DeviceID, sequence uint32) (stale bool, known bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return false, false
	}
	e.device.LastSeen = t.now()
	return e.sequence != sequence, true
}

// Put inserts or replaces a peer entry.
func (t *deviceTable) Put(device domain.Device, sequence uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	device.LastSeen = t.now()
	t.entries[device.ID] = &tableEntry{device: device, sequence: sequence}
}

// Sweep drops peers not heard from within ttl and reports whether
// anything was removed.
func (t *deviceTable) Sweep(ttl time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-ttl)
	removed := false
	for id, e := range t.entries {
		if e.device.LastSeen.Before(cutoff) {
			delete(t.entries, id)
			removed = true
		}
	}
	return removed
}

// Snapshot returns the current devices sorted by id for stable
// enumeration.
func (t *deviceTable) Snapshot() []domain.Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Device, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.device)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
