package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	// Screenshot frames arrive as PNG.
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// job is one crop-and-encode unit of work. Every submitted job gets
// exactly one reply.
type job struct {
	frame   []byte
	crop    image.Rectangle
	maxDim  int
	quality int
	reply   chan jobResult
}

type jobResult struct {
	data   []byte
	width  int
	height int
	err    error
}

// worker processes image jobs on a single goroutine, started on first use.
// Image decode and re-encode are the expensive part of a capture; keeping
// them off the request goroutines bounds memory to one frame at a time.
type worker struct {
	once sync.Once
	jobs chan job
}

func (w *worker) start() {
	w.once.Do(func() {
		w.jobs = make(chan job, 8)
		go w.loop()
	})
}

func (w *worker) loop() {
	for j := range w.jobs {
		j.reply <- process(j)
	}
}

func process(j job) jobResult {
	img, _, err := image.Decode(bytes.NewReader(j.frame))
	if err != nil {
		return jobResult{err: fmt.Errorf("decode frame: %w", err)}
	}

	bounds := img.Bounds()
	crop := j.crop.Intersect(bounds)
	if crop.Empty() {
		return jobResult{err: fmt.Errorf("crop %v outside frame %v", j.crop, bounds)}
	}

	out := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	xdraw.Draw(out, out.Bounds(), img, crop.Min, xdraw.Src)

	// Downscale oversized crops so stored blobs stay bounded.
	width, height := out.Bounds().Dx(), out.Bounds().Dy()
	if j.maxDim > 0 && (width > j.maxDim || height > j.maxDim) {
		scale := float64(j.maxDim) / float64(width)
		if height > width {
			scale = float64(j.maxDim) / float64(height)
		}
		dw := int(float64(width) * scale)
		dh := int(float64(height) * scale)
		if dw < 1 {
			dw = 1
		}
		if dh < 1 {
			dh = 1
		}
		scaled := image.NewRGBA(image.Rect(0, 0, dw, dh))
		xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), out, out.Bounds(), xdraw.Src, nil)
		out = scaled
		width, height = dw, dh
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: j.quality}); err != nil {
		return jobResult{err: fmt.Errorf("encode jpeg: %w", err)}
	}
	return jobResult{data: buf.Bytes(), width: width, height: height}
}
