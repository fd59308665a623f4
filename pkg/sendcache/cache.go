// Package sendcache implements the sender-side history cache (spec.md §4.3,
// C3): a ring of recently sent packets keyed by sequence number, serving
// retransmits against incoming NACKs under a per-sequence retry cap and a
// token-bucket bandwidth limit.
//
// The ring-insert/evict shape is grounded on the teacher's
// source/protocol/raknet.go Session.RecoveryQueue and PendingACK maps,
// generalized from a per-connection map-of-everything to a
// capacity-bounded ring.
package sendcache

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Entry is one cached sent packet (spec.md §3 "Sender History Cache (HC)").
type Entry struct {
	Seq             uint32
	SentAt          time.Time
	Payload         []byte
	EncryptedPayload []byte
	retries         map[uint32]int // per-peer retry counter, keyed by peer id
}

// Cache is a capacity-bounded ring of sent packets. It is safe for
// concurrent use, though in this design it is only ever driven by the
// single reactor thread that owns the sender context (spec.md §5).
type Cache struct {
	mu       sync.Mutex
	capacity int
	maxAge   time.Duration
	maxRetry int
	entries  map[uint32]*Entry
	oldest   uint32
	newest   uint32
	hasAny   bool

	limiter *rate.Limiter // caps retransmit emission at recovery_maxbitrate_return
}

// New builds a Cache. capacity is the number of packets retained (derived
// from recovery_length_max × recovery_maxbitrate / avg packet size, per
// spec.md §3); maxAge is recovery_length_max; maxRetry is max_retries
// (default 7); returnBitrateBps caps the retransmit token bucket.
func New(capacity int, maxAge time.Duration, maxRetry int, returnBitrateBps int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	if maxRetry <= 0 {
		maxRetry = 7
	}
	var limiter *rate.Limiter
	if returnBitrateBps > 0 {
		// Token bucket in bytes/sec with a one-MTU burst allowance.
		limiter = rate.NewLimiter(rate.Limit(returnBitrateBps/8), 1500)
	}
	return &Cache{
		capacity: capacity,
		maxAge:   maxAge,
		maxRetry: maxRetry,
		entries:  make(map[uint32]*Entry, capacity),
		limiter:  limiter,
	}
}

// Put inserts a newly sent packet, evicting the oldest entry if the ring is
// full (spec.md §4.3 "Insert").
func (c *Cache) Put(seq uint32, payload []byte, encrypted []byte, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	c.entries[seq] = &Entry{
		Seq:              seq,
		SentAt:           now,
		Payload:          payload,
		EncryptedPayload: encrypted,
	}
	if !c.hasAny || seqLess(c.newest, seq) {
		c.newest = seq
	}
	if !c.hasAny || seqLess(seq, c.oldest) {
		c.oldest = seq
	}
	c.hasAny = true
}

func (c *Cache) evictOldestLocked() {
	if len(c.entries) == 0 {
		return
	}
	// Linear scan is fine: capacity is bounded and evictions are O(1)
	// amortized since we track `oldest` incrementally in the common
	// monotonic-seq case; the scan only triggers on out-of-order insert.
	oldestSeq := c.oldest
	if _, ok := c.entries[oldestSeq]; !ok {
		for s := range c.entries {
			oldestSeq = s
			break
		}
		for s := range c.entries {
			if seqLess(s, oldestSeq) {
				oldestSeq = s
			}
		}
	}
	delete(c.entries, oldestSeq)
	// With monotonic seqs the next-oldest entry is the following seq.
	c.oldest = oldestSeq + 1
}

// expireLocked drops any entry older than maxAge relative to now.
func (c *Cache) expireLocked(now time.Time) {
	if c.maxAge <= 0 {
		return
	}
	for seq, e := range c.entries {
		if now.Sub(e.SentAt) > c.maxAge {
			delete(c.entries, seq)
		}
	}
}

// Get retrieves a cached payload for retransmission on behalf of peerID,
// applying the per-peer retry cap and bandwidth token bucket (spec.md §4.3
// "Retrieve", "Retransmit policy", "Bandwidth cap"). ok is false if the
// sequence has aged out, is beyond the retry cap, or the token bucket is
// currently exhausted (the NACK is dropped silently in that case).
func (c *Cache) Get(seq uint32, peerID uint32, now time.Time) (payload []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked(now)

	e, exists := c.entries[seq]
	if !exists {
		return nil, false
	}
	if e.retries == nil {
		e.retries = make(map[uint32]int)
	}
	if e.retries[peerID] >= c.maxRetry {
		return nil, false
	}

	payload = e.Payload
	if e.EncryptedPayload != nil {
		payload = e.EncryptedPayload
	}
	if c.limiter != nil && !c.limiter.AllowN(now, len(payload)) {
		return nil, false // surplus retransmit requests are dropped silently.
	}

	e.retries[peerID]++
	return payload, true
}

// SetReturnBitrate (re)configures the retransmit token bucket from
// recovery_maxbitrate_return (spec.md §4.3 "Bandwidth cap"). A
// non-positive value disables the cap entirely.
func (c *Cache) SetReturnBitrate(bps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bps <= 0 {
		c.limiter = nil
		return
	}
	c.limiter = rate.NewLimiter(rate.Limit(bps/8), 1500)
}

// RetryCount returns how many times seq has been retransmitted to peerID.
func (c *Cache) RetryCount(seq uint32, peerID uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[seq]
	if !ok || e.retries == nil {
		return 0
	}
	return e.retries[peerID]
}

// Len reports how many packets are currently retained.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}
