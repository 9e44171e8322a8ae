package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"copytrade_go/internal/domain"
)

// DefaultBucketWindow is the time bucket inside which identical intents collapse.
const DefaultBucketWindow = 10 * time.Second

// BuildIntentKey fingerprints an intent within the default bucket window.
func BuildIntentKey(intent domain.OrderIntent, now time.Time) string {
	return BuildIntentKeyWithWindow(intent, now, DefaultBucketWindow)
}

// BuildIntentKeyWithWindow hashes market, side, size, reduce-only flag, reason
// and the time bucket. Account identity is not part of the key, so a deduper
// must not be shared across workers.
func BuildIntentKeyWithWindow(intent domain.OrderIntent, now time.Time, window time.Duration) string {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = DefaultBucketWindow.Milliseconds()
	}
	bucket := floorDiv(now.UnixMilli(), windowMs)

	reduceOnly := "0"
	if intent.ReduceOnly {
		reduceOnly = "1"
	}

	raw := strings.Join([]string{
		intent.Market,
		string(intent.Side),
		strconv.FormatFloat(intent.TargetSize, 'f', -1, 64),
		reduceOnly,
		string(intent.Reason),
		strconv.FormatInt(bucket, 10),
	}, "|")

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// IntentDeduper remembers every key it has seen until Clear is called.
// It has no eviction; its lifetime is one worker run.
type IntentDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewIntentDeduper returns an empty deduper.
func NewIntentDeduper() *IntentDeduper {
	return &IntentDeduper{seen: make(map[string]struct{})}
}

// MarkAndCheck records key and reports whether this was its first sighting.
func (d *IntentDeduper) MarkAndCheck(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// Clear forgets every key.
func (d *IntentDeduper) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]struct{})
}

// Len returns the number of remembered keys.
func (d *IntentDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
