package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// scaleSnapshot decodes a JPEG snapshot and scales it to fit the overlay
// box, preserving aspect ratio. Returns re-encoded JPEG bytes. Width or
// height of zero disables scaling.
func scaleSnapshot(data []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, fmt.Errorf("decode snapshot: empty image")
	}
	if srcW <= width && srcH <= height {
		return data, nil
	}

	// Fit inside the box, keeping proportions.
	ratio := min(float64(width)/float64(srcW), float64(height)/float64(srcH))
	dstW := int(float64(srcW) * ratio)
	dstH := int(float64(srcH) * ratio)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
