package replay

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/willibrandon/haloscope/pkg/engine"
	"github.com/willibrandon/haloscope/pkg/logger"
	"github.com/willibrandon/haloscope/pkg/recorder"
)

var (
	ErrNoCaptures       = errors.New("no captures loaded")
	ErrStartOfRecording = errors.New("already at the beginning")
	ErrEndOfRecording   = errors.New("already at the end")
	ErrIndexOutOfRange  = errors.New("capture index out of range")
)

// DefaultCacheSize is the number of decoded snapshots kept in memory
const DefaultCacheSize = 32

// decoded is a cached BuildSnapshot result. Failures are cached too since
// decoding a capture is deterministic.
type decoded struct {
	snap *engine.EngineSnapshot
	err  error
}

// Replayer walks a recording one capture at a time
type Replayer struct {
	layout     engine.Layout
	captures   []recorder.Capture
	currentIdx int
	cache      *lru.Cache
}

// NewReplayer creates a replayer that decodes captures with layout
func NewReplayer(layout engine.Layout, cacheSize int) (*Replayer, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Replayer{
		layout:     layout,
		currentIdx: -1,
		cache:      cache,
	}, nil
}

// LoadCaptures replaces the recording and moves to its first capture
func (r *Replayer) LoadCaptures(captures []recorder.Capture) error {
	r.captures = captures
	r.cache.Purge()
	if len(captures) == 0 {
		r.currentIdx = -1
		return ErrNoCaptures
	}
	r.currentIdx = 0
	return nil
}

// Len returns the number of loaded captures
func (r *Replayer) Len() int {
	return len(r.captures)
}

// CurrentIndex returns the cursor, or -1 when nothing is loaded
func (r *Replayer) CurrentIndex() int {
	return r.currentIdx
}

// Layout returns the layout used to decode captures
func (r *Replayer) Layout() engine.Layout {
	return r.layout
}

// Capture returns the capture at i
func (r *Replayer) Capture(i int) (recorder.Capture, bool) {
	if i < 0 || i >= len(r.captures) {
		return recorder.Capture{}, false
	}
	return r.captures[i], true
}

// Step moves one capture forward
func (r *Replayer) Step() (int, error) {
	if len(r.captures) == 0 {
		return -1, ErrNoCaptures
	}
	if r.currentIdx >= len(r.captures)-1 {
		return r.currentIdx, ErrEndOfRecording
	}
	r.currentIdx++
	return r.currentIdx, nil
}

// StepBackward moves one capture back
func (r *Replayer) StepBackward() (int, error) {
	if len(r.captures) == 0 {
		return -1, ErrNoCaptures
	}
	if r.currentIdx <= 0 {
		return 0, ErrStartOfRecording
	}
	r.currentIdx--
	return r.currentIdx, nil
}

// Seek moves the cursor to i
func (r *Replayer) Seek(i int) error {
	if i < 0 || i >= len(r.captures) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(r.captures))
	}
	r.currentIdx = i
	return nil
}

// Current decodes the capture under the cursor
func (r *Replayer) Current() (*engine.EngineSnapshot, error) {
	if r.currentIdx < 0 {
		return nil, ErrNoCaptures
	}
	return r.SnapshotAt(r.currentIdx)
}

// RawAt returns the uncompressed memory window of capture i
func (r *Replayer) RawAt(i int) ([]byte, error) {
	c, ok := r.Capture(i)
	if !ok {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(r.captures))
	}
	return c.Raw()
}

// SnapshotAt decodes capture i, using the cache when possible
func (r *Replayer) SnapshotAt(i int) (*engine.EngineSnapshot, error) {
	if v, ok := r.cache.Get(i); ok {
		d := v.(decoded)
		return d.snap, d.err
	}

	raw, err := r.RawAt(i)
	if errors.Is(err, ErrIndexOutOfRange) {
		return nil, err
	}
	var d decoded
	if err != nil {
		d.err = err
	} else {
		d.snap, d.err = engine.BuildSnapshot(raw, r.layout)
	}
	if d.err != nil {
		logger.Log.WithFields(logrus.Fields{
			"capture": i,
			"error":   d.err,
		}).Debug("Capture did not decode")
	}
	r.cache.Add(i, d)
	return d.snap, d.err
}

// ReplayUntilWatch advances until a watch fires between two consecutive
// decodable captures. Captures that fail to decode are stepped over. When
// nothing fires the cursor ends on the last capture and the hit is nil.
func (r *Replayer) ReplayUntilWatch(wm *WatchManager) (*WatchHit, error) {
	if len(r.captures) == 0 {
		return nil, ErrNoCaptures
	}

	prev, _ := r.SnapshotAt(r.currentIdx)
	for i := r.currentIdx + 1; i < len(r.captures); i++ {
		next, err := r.SnapshotAt(i)
		if err != nil {
			continue
		}
		if prev != nil {
			if fired := wm.Check(prev, next); len(fired) > 0 {
				r.currentIdx = i
				logger.Log.WithFields(logrus.Fields{
					"capture": i,
					"watches": len(fired),
				}).Debug("Watch hit")
				return &WatchHit{Index: i, Watches: fired}, nil
			}
		}
		prev = next
	}
	r.currentIdx = len(r.captures) - 1
	return nil, nil
}
