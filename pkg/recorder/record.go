package recorder

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/willibrandon/haloscope/pkg/logger"
	"github.com/willibrandon/haloscope/pkg/memory"
)

// RecordOptions controls a recording session
type RecordOptions struct {
	Interval    time.Duration
	MaxFrames   int // 0 records until ctx is done
	Layout      string
	Compression CompressionType
}

// Record polls provider and stores a capture per interval. It returns the
// number of captures stored. Cancelling ctx ends the session normally.
func Record(ctx context.Context, provider memory.Provider, rec Recorder, opts RecordOptions) (int, error) {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var frames int
	for {
		raw, err := provider.Read(ctx)
		switch {
		case ctx.Err() != nil:
			return frames, nil
		case errors.Is(err, memory.ErrClosed):
			return frames, err
		case err != nil:
			logger.Log.WithError(err).Warn("Failed to read target memory, skipping frame")
		default:
			c, err := NewCapture(int64(frames), raw, provider.BaseAddress(), opts.Layout, opts.Compression)
			if err != nil {
				return frames, err
			}
			if err := rec.RecordCapture(c); err != nil {
				return frames, err
			}
			frames++
			logger.Log.WithFields(logrus.Fields{
				"frame": c.ID,
				"size":  c.Size,
				"bytes": len(c.Data),
			}).Debug("Recorded capture")
		}

		if opts.MaxFrames > 0 && frames >= opts.MaxFrames {
			return frames, nil
		}

		select {
		case <-ctx.Done():
			return frames, nil
		case <-ticker.C:
		}
	}
}
