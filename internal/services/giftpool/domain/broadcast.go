package domain

import (
	"sync"

	"github.com/giftwell/giftwell/internal/giftpool"
)

// Broadcaster fans committed progress snapshots out to campaign viewers.
// Each subscriber holds a buffer of one snapshot; a slow viewer misses
// intermediate snapshots and always receives the latest one. Delivery is
// best-effort: viewers that need the committed state read it from the store.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]map[chan giftpool.ProgressSnapshot]struct{}
}

// NewBroadcaster constructs an empty fan-out.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]map[chan giftpool.ProgressSnapshot]struct{}),
	}
}

// Subscribe registers a viewer for one campaign's snapshots. The returned
// cancel func unregisters the viewer and closes the channel; it is safe to
// call more than once.
func (b *Broadcaster) Subscribe(campaignID string) (<-chan giftpool.ProgressSnapshot, func()) {
	ch := make(chan giftpool.ProgressSnapshot, 1)

	b.mu.Lock()
	set, ok := b.subscribers[campaignID]
	if !ok {
		set = make(map[chan giftpool.ProgressSnapshot]struct{})
		b.subscribers[campaignID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subscribers[campaignID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(b.subscribers, campaignID)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers a snapshot to every subscriber of its campaign without
// blocking. A full subscriber buffer is drained first so the stale snapshot
// is replaced by the newer one.
func (b *Broadcaster) Publish(snapshot giftpool.ProgressSnapshot) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers[snapshot.CampaignID] {
		select {
		case ch <- snapshot:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// SubscriberCount reports the number of active viewers for a campaign.
func (b *Broadcaster) SubscriberCount(campaignID string) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[campaignID])
}
