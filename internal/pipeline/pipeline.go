// Package pipeline turns viewport frames into stored screenshot blobs:
// grab, crop to the selected element, downscale, encode, persist.
package pipeline

import (
	"context"
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/pagelens/audit_agent/internal/record"
	"github.com/pagelens/audit_agent/internal/store"
)

const (
	// DefaultMaxDimension caps the longest edge of stored screenshots.
	DefaultMaxDimension = 1600
	// DefaultJPEGQuality is the encoder quality for stored screenshots.
	DefaultJPEGQuality = 80

	jobWait = 10 * time.Second
)

// FrameGrabber supplies raw viewport frames for a tab.
type FrameGrabber interface {
	CaptureViewport(ctx context.Context, tabID string) ([]byte, error)
}

// BlobSink persists encoded screenshots.
type BlobSink interface {
	PutBlob(b store.Blob) error
}

// Pipeline captures, processes, and stores element screenshots. Screenshots
// are best effort: a capture record without one is still a valid record, so
// every failure path returns nil rather than an error.
type Pipeline struct {
	grabber FrameGrabber
	blobs   BlobSink

	maxDim  int
	quality int
	worker  worker
}

func New(grabber FrameGrabber, blobs BlobSink) *Pipeline {
	return &Pipeline{
		grabber: grabber,
		blobs:   blobs,
		maxDim:  DefaultMaxDimension,
		quality: DefaultJPEGQuality,
	}
}

// SetEncoding overrides the downscale cap and JPEG quality. Out-of-range
// values keep the defaults.
func (p *Pipeline) SetEncoding(maxDim, quality int) {
	if maxDim > 0 {
		p.maxDim = maxDim
	}
	if quality >= 1 && quality <= 100 {
		p.quality = quality
	}
}

// CaptureScreenshot grabs the tab's viewport, crops it to the element box
// (CSS pixels scaled by the device pixel ratio), and stores the result.
// Returns nil if any stage fails.
func (p *Pipeline) CaptureScreenshot(ctx context.Context, tabID string, box record.Box, pixelRatio float64) *record.ScreenshotRef {
	if box.Width <= 0 || box.Height <= 0 {
		slog.Debug("screenshot skipped, degenerate box", "tab_id", tabID, "w", box.Width, "h", box.Height)
		return nil
	}

	frame, err := p.grabber.CaptureViewport(ctx, tabID)
	if err != nil {
		slog.Warn("screenshot frame grab failed", "tab_id", tabID, "error", err)
		return nil
	}

	if pixelRatio <= 0 {
		pixelRatio = 1
	}
	crop := image.Rect(
		int(math.Floor(box.X*pixelRatio)),
		int(math.Floor(box.Y*pixelRatio)),
		int(math.Ceil((box.X+box.Width)*pixelRatio)),
		int(math.Ceil((box.Y+box.Height)*pixelRatio)),
	)

	result, err := p.submit(ctx, frame, crop)
	if err != nil {
		slog.Warn("screenshot processing failed", "tab_id", tabID, "error", err)
		return nil
	}

	blob := store.Blob{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		MimeType:  "image/jpeg",
		Width:     result.width,
		Height:    result.height,
		Bytes:     result.data,
	}
	if err := p.blobs.PutBlob(blob); err != nil {
		slog.Warn("screenshot blob store failed", "tab_id", tabID, "error", err)
		return nil
	}

	return &record.ScreenshotRef{
		BlobID:   blob.ID,
		MimeType: blob.MimeType,
		Width:    blob.Width,
		Height:   blob.Height,
	}
}

// submit hands the frame to the shared worker and waits for its reply,
// bounded so a wedged decode cannot hold a request forever.
func (p *Pipeline) submit(ctx context.Context, frame []byte, crop image.Rectangle) (jobResult, error) {
	p.worker.start()

	j := job{
		frame:   frame,
		crop:    crop,
		maxDim:  p.maxDim,
		quality: p.quality,
		reply:   make(chan jobResult, 1),
	}

	waitCtx, cancel := context.WithTimeout(ctx, jobWait)
	defer cancel()

	select {
	case p.worker.jobs <- j:
	case <-waitCtx.Done():
		return jobResult{}, waitCtx.Err()
	}

	select {
	case res := <-j.reply:
		if res.err != nil {
			return jobResult{}, res.err
		}
		return res, nil
	case <-waitCtx.Done():
		return jobResult{}, waitCtx.Err()
	}
}
