// File: internal/perception/tracker.go
package perception

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sync"

	"github.com/corona10/goimagehash"
	"go.uber.org/zap"
)

// Fingerprint is a perceptual hash of a screenshot. Visually similar images
// produce fingerprints with a small Hamming distance.
type Fingerprint struct {
	hash *goimagehash.ExtImageHash
}

// FingerprintFromBits builds a pHash fingerprint from raw hash words, most
// significant word first. Each word contributes 64 bits.
func FingerprintFromBits(words []uint64) Fingerprint {
	return Fingerprint{hash: goimagehash.NewExtImageHash(words, goimagehash.PHash, len(words)*64)}
}

// Distance returns the Hamming distance to other. Fingerprints of different
// sizes are maximally distant.
func (f Fingerprint) Distance(other Fingerprint) int {
	if f.hash == nil || other.hash == nil {
		return math.MaxInt
	}
	d, err := f.hash.Distance(other.hash)
	if err != nil {
		return math.MaxInt
	}
	return d
}

// Bits reports the hash length in bits.
func (f Fingerprint) Bits() int {
	if f.hash == nil {
		return 0
	}
	return f.hash.Bits()
}

func (f Fingerprint) String() string {
	if f.hash == nil {
		return "<nil>"
	}
	return f.hash.ToString()
}

// Tracker remembers the fingerprints of every state retained during a task and
// classifies new screenshots as novel or duplicate.
//
// No two retained fingerprints are ever within the threshold of each other.
type Tracker struct {
	mu        sync.Mutex
	threshold int
	hashSize  int
	seen      []Fingerprint
	logger    *zap.Logger
}

// NewTracker creates a tracker. Screenshots whose fingerprint lies within
// threshold bits of a retained one are duplicates. hashSize is the edge length
// of the pHash grid; 16 yields 256-bit fingerprints.
func NewTracker(threshold, hashSize int, logger *zap.Logger) *Tracker {
	if hashSize <= 0 {
		hashSize = 16
	}
	return &Tracker{
		threshold: threshold,
		hashSize:  hashSize,
		logger:    logger.Named("perception"),
	}
}

// Threshold returns the similarity threshold in bits.
func (t *Tracker) Threshold() int { return t.threshold }

// Fingerprint decodes an encoded image and hashes it.
func (t *Tracker) Fingerprint(encoded []byte) (Fingerprint, error) {
	img, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	hash, err := goimagehash.ExtPerceptionHash(img, t.hashSize, t.hashSize)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to hash screenshot: %w", err)
	}
	return Fingerprint{hash: hash}, nil
}

// IsNewState reports whether the screenshot shows a state not seen before in
// this task. With forceSave the answer is always true. An undecodable image is
// an error and leaves the tracker untouched.
func (t *Tracker) IsNewState(encoded []byte, forceSave bool) (bool, error) {
	fp, err := t.Fingerprint(encoded)
	if err != nil {
		return false, err
	}
	return t.IsNewFingerprint(fp, forceSave), nil
}

// IsNewFingerprint classifies an already computed fingerprint.
//
// A novel fingerprint is retained. A forced fingerprint is retained too unless
// it is already confusable with a retained one, so a forced capture anchors the
// state it shows without ever breaking the spacing between retained entries.
func (t *Tracker) IsNewFingerprint(fp Fingerprint, forceSave bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	nearest := math.MaxInt
	for _, s := range t.seen {
		if d := fp.Distance(s); d < nearest {
			nearest = d
		}
	}

	if nearest <= t.threshold {
		t.logger.Debug("Screenshot matches a known state.",
			zap.Int("distance", nearest),
			zap.Int("threshold", t.threshold),
			zap.Bool("forced", forceSave))
		return forceSave
	}

	t.seen = append(t.seen, fp)
	t.logger.Debug("New UI state retained.",
		zap.Int("retained", len(t.seen)),
		zap.Bool("forced", forceSave))
	return true
}

// Reset forgets every retained fingerprint. It is called at the start of each task.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = nil
}

// Len returns the number of retained fingerprints.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
