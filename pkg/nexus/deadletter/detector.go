package deadletter

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Detector counts failures that share a fingerprint within a time window.
// A fingerprint that reaches the threshold is poisoned: the same work keeps
// failing the same way, so running it again is pointless.
type Detector struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	now       func() time.Time
	records   map[string]*failureRecord
}

type failureRecord struct {
	count int
	first time.Time
}

// NewDetector creates a detector. Non-positive arguments take the
// DefaultConfig values; a nil now uses time.Now.
func NewDetector(threshold int, window time.Duration, now func() time.Time) *Detector {
	if threshold <= 0 {
		threshold = DefaultConfig.Threshold
	}
	if window <= 0 {
		window = DefaultConfig.Window
	}
	if now == nil {
		now = time.Now
	}
	return &Detector{
		threshold: threshold,
		window:    window,
		now:       now,
		records:   make(map[string]*failureRecord),
	}
}

// Fingerprint identifies a failure by what failed and how.
func Fingerprint(kind Kind, source, reason string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(reason))
	return hex.EncodeToString(h.Sum(nil))
}

// Record counts one failure for key and returns the count within the
// current window and whether key is now poisoned.
func (d *Detector) Record(key string) (int, bool) {
	return d.RecordAt(key, d.now())
}

// RecordAt is Record for a failure that happened at now, such as one read
// back from an event log.
func (d *Detector) RecordAt(key string, now time.Time) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pruneLocked(now)
	rec, ok := d.records[key]
	if !ok {
		rec = &failureRecord{first: now}
		d.records[key] = rec
	}
	rec.count++
	return rec.count, rec.count >= d.threshold
}

// Count returns the failures recorded for key in the current window.
func (d *Detector) Count(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[key]
	if !ok || d.now().Sub(rec.first) > d.window {
		return 0
	}
	return rec.count
}

// Clear forgets key.
func (d *Detector) Clear(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.records, key)
}

// Tracked returns the number of fingerprints inside the window.
func (d *Detector) Tracked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked(d.now())
	return len(d.records)
}

// pruneLocked drops records whose window has passed.
func (d *Detector) pruneLocked(now time.Time) {
	for key, rec := range d.records {
		if now.Sub(rec.first) > d.window {
			delete(d.records, key)
		}
	}
}
