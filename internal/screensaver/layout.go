package screensaver

import (
	"fmt"
	"strings"
)

// Stream is one camera slot in a composition window.
type Stream struct {
	CameraID string
	URL      string
}

// Plan is everything needed to build one composition: the ordered
// streams, the grid shape and the transport the encoder writes into.
// A fresh plan is computed on every rotation; the encoder process and
// the pipe are scoped to exactly one plan.
type Plan struct {
	Streams  []Stream
	Columns  int
	Rows     int
	Width    int
	Height   int
	PipePath string
}

// maxStreamsPerView is the most streams one composition can hold;
// larger requests degrade to a 2x2 grid and truncate.
const maxStreamsPerView = 4

// gridShape maps a view size to its fixed grid layout.
func gridShape(streamsPerView int) (cols, rows int) {
	switch streamsPerView {
	case 1:
		return 1, 1
	case 2:
		return 2, 1
	case 3:
		return 3, 1
	default:
		return 2, 2
	}
}

// xstackLayout builds the per-cell offset list for the stacking filter,
// row-major with explicit pixel coordinates.
func xstackLayout(n, cols, cellW, cellH int) string {
	offsets := make([]string, n)
	for i := 0; i < n; i++ {
		col := i % cols
		row := i / cols
		offsets[i] = fmt.Sprintf("%d_%d", col*cellW, row*cellH)
	}
	return strings.Join(offsets, "|")
}

// filterGraph synthesizes the encoder's filter description for a plan:
// each input scaled into its cell with aspect preserved and black
// padding, the cells stacked at explicit offsets, and the stack padded
// to the full output resolution.
func filterGraph(p Plan) string {
	const fill = "0x000000"
	n := len(p.Streams)

	if n == 1 {
		return fmt.Sprintf(
			"[0:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=%s[out]",
			p.Width, p.Height, p.Width, p.Height, fill)
	}

	cellW := p.Width / p.Columns
	cellH := p.Height / p.Rows

	parts := make([]string, 0, n+1)
	labels := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, fmt.Sprintf(
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=%s[v%d]",
			i, cellW, cellH, cellW, cellH, fill, i))
		labels = append(labels, fmt.Sprintf("[v%d]", i))
	}

	stack := fmt.Sprintf("%sxstack=inputs=%d:layout=%s:fill=black[stacked]",
		strings.Join(labels, ""), n, xstackLayout(n, p.Columns, cellW, cellH))
	final := fmt.Sprintf("[stacked]pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=%s[out]",
		p.Width, p.Height, fill)

	return strings.Join(append(parts, stack, final), ";")
}
