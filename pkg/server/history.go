package server

import (
	"sync"
	"time"

	"github.com/sgrams/trxd/pkg/decode"
)

// historyRetention is the window the APRS history keeps.
const historyRetention = 24 * time.Hour

// AprsHistory is the daemon-wide record of decoded APRS packets,
// pruned to the retention window on every insertion. New audio clients
// receive a replay of it, oldest first.
type AprsHistory struct {
	mu      sync.Mutex
	entries []historyEntry
	store   HistoryStore
}

type historyEntry struct {
	at  time.Time
	pkt decode.AprsPacket
}

// HistoryStore persists decoded packets across restarts. May be nil.
type HistoryStore interface {
	Insert(msg decode.Message) error
	RecentAprs(since time.Time) ([]decode.AprsPacket, error)
	Clear() error
}

// NewAprsHistory builds the history, seeding from store when present.
func NewAprsHistory(store HistoryStore) *AprsHistory {
	h := &AprsHistory{store: store}
	if store != nil {
		if pkts, err := store.RecentAprs(time.Now().Add(-historyRetention)); err == nil {
			for _, pkt := range pkts {
				h.entries = append(h.entries, historyEntry{at: time.Now(), pkt: pkt})
			}
		}
	}
	return h
}

// Record appends a packet and prunes the window.
func (h *AprsHistory) Record(pkt decode.AprsPacket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, historyEntry{at: time.Now(), pkt: pkt})
	h.pruneLocked()
	if h.store != nil {
		_ = h.store.Insert(decode.NewAprsMessage(pkt))
	}
}

// Snapshot returns the retained packets, oldest first.
func (h *AprsHistory) Snapshot() []decode.AprsPacket {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked()
	out := make([]decode.AprsPacket, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.pkt
	}
	return out
}

// Clear drops everything, including the persisted copy.
func (h *AprsHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	if h.store != nil {
		_ = h.store.Clear()
	}
}

// Len returns the number of retained packets.
func (h *AprsHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked()
	return len(h.entries)
}

func (h *AprsHistory) pruneLocked() {
	cutoff := time.Now().Add(-historyRetention)
	idx := 0
	for idx < len(h.entries) && h.entries[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		h.entries = append([]historyEntry(nil), h.entries[idx:]...)
	}
}
