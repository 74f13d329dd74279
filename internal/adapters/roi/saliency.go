package roi

import (
	"image"
	"image/color"
	"math"

	"github.com/samirrijal/plonk/internal/core/domain"
	"github.com/samirrijal/plonk/internal/pkg/imaging"
)

// Horizontal field of view of a street-level panorama viewport, used to map
// a pixel offset onto a pan angle.
const viewportFOVDegrees = 90.0

// SaliencySelector proposes actions by finding the most edge-dense region of
// the latest view: a salient region gets panned to and zoomed into, an empty
// frame advances a coverage sweep, and an undecodable frame stops the round.
// Detection is Sobel edge magnitude, dilation, and connected components.
type SaliencySelector struct {
	edgeThreshold float64
	minBlockArea  int
	stepDegrees   float64
	segments      int
	zoomLevel     float64
	maxTurns      int
	analysisEdge  int
}

// NewSaliencySelector creates a selector with the given sweep granularity,
// zoom depth, and turn budget. Detection thresholds are fixed; they are a
// property of the imagery, not of the player.
func NewSaliencySelector(segments int, zoomLevel float64, maxTurns int) *SaliencySelector {
	if segments < 1 {
		segments = 1
	}
	return &SaliencySelector{
		edgeThreshold: 30.0,
		minBlockArea:  500,
		stepDegrees:   360.0 / float64(segments),
		segments:      segments,
		zoomLevel:     zoomLevel,
		maxTurns:      maxTurns,
		analysisEdge:  512,
	}
}

// ProposeAction analyzes the latest view and proposes the next move.
func (s *SaliencySelector) ProposeAction(history []domain.Observation) (domain.Action, error) {
	if len(history) == 0 || len(history) >= s.maxTurns {
		return domain.Stop(), nil
	}

	latest := history[len(history)-1]
	img, err := imaging.Decode(latest.View.Image.Data)
	if err != nil {
		// Unanalyzable imagery ends exploration; guessing on what exists
		// beats acting blind.
		return domain.Stop(), nil
	}
	img = imaging.Downscale(img, s.analysisEdge)

	// Zoom only from a base-zoom view, and only toward something salient.
	if latest.View.Pose.ZoomLevel == 0 {
		if block, ok := s.salientBlock(img); ok {
			return domain.Zoom(s.panToward(block, img.Bounds()), s.zoomLevel), nil
		}
	}

	if heading, ok := s.nextHeading(history); ok {
		return domain.Pan(panDelta(latest.View.Pose.PanDegrees, heading)), nil
	}
	return domain.Stop(), nil
}

// Deterministic holds: detection is a pure function of the latest pixels and
// the visited headings.
func (s *SaliencySelector) Deterministic() bool { return true }

// salientBlock returns the largest edge-dense region, if any clears the
// minimum area after scaling.
func (s *SaliencySelector) salientBlock(img image.Image) (image.Rectangle, bool) {
	gray := grayscale(img)
	edges := sobelEdges(gray, s.edgeThreshold)
	dilated := dilate(edges, 5, 2)

	minArea := s.minBlockArea
	var best image.Rectangle
	for _, rect := range connectedRegions(dilated) {
		if rect.Dx()*rect.Dy() < minArea {
			continue
		}
		if rect.Dx()*rect.Dy() > best.Dx()*best.Dy() {
			best = rect
		}
	}
	return best, best != image.Rectangle{}
}

// panToward maps the block's horizontal offset from the view center onto a
// pan angle inside the viewport.
func (s *SaliencySelector) panToward(block image.Rectangle, bounds image.Rectangle) float64 {
	blockCenter := float64(block.Min.X+block.Max.X) / 2
	viewCenter := float64(bounds.Min.X+bounds.Max.X) / 2
	offset := (blockCenter - viewCenter) / float64(bounds.Dx())
	return offset * viewportFOVDegrees
}

// nextHeading picks the first sweep segment without a base-zoom view yet.
func (s *SaliencySelector) nextHeading(history []domain.Observation) (float64, bool) {
	visited := make([]bool, s.segments)
	for _, obs := range history {
		if obs.View.Pose.ZoomLevel != 0 {
			continue
		}
		bucket := int(math.Round(obs.View.Pose.PanDegrees/s.stepDegrees)) % s.segments
		if bucket < 0 {
			bucket += s.segments
		}
		visited[bucket] = true
	}
	for i, seen := range visited {
		if !seen {
			return float64(i) * s.stepDegrees, true
		}
	}
	return 0, false
}

// panDelta is the shortest rotation from the current heading to the target,
// in (-180, 180].
func panDelta(current, target float64) float64 {
	delta := math.Mod(target-current, 360)
	if delta > 180 {
		delta -= 360
	}
	if delta <= -180 {
		delta += 360
	}
	return delta
}

func grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

// sobelEdges thresholds the Sobel gradient magnitude into a binary edge map.
func sobelEdges(gray *image.Gray, threshold float64) *image.Gray {
	b := gray.Bounds()
	edges := image.NewGray(b)

	kx := [3][3]float64{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	ky := [3][3]float64{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}

	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			var gx, gy float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					p := float64(gray.GrayAt(x+dx, y+dy).Y)
					gx += p * kx[dy+1][dx+1]
					gy += p * ky[dy+1][dx+1]
				}
			}
			if math.Sqrt(gx*gx+gy*gy) > threshold {
				edges.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return edges
}

// dilate grows edge pixels to connect nearby fragments into regions.
func dilate(img *image.Gray, kernelSize, iterations int) *image.Gray {
	b := img.Bounds()
	half := kernelSize / 2
	result := img

	for iter := 0; iter < iterations; iter++ {
		next := image.NewGray(b)
		for y := b.Min.Y + half; y < b.Max.Y-half; y++ {
			for x := b.Min.X + half; x < b.Max.X-half; x++ {
				var maxVal uint8
				for dy := -half; dy <= half; dy++ {
					for dx := -half; dx <= half; dx++ {
						if v := result.GrayAt(x+dx, y+dy).Y; v > maxVal {
							maxVal = v
						}
					}
				}
				next.SetGray(x, y, color.Gray{Y: maxVal})
			}
		}
		result = next
	}
	return result
}

// connectedRegions returns the bounding box of every connected bright region.
func connectedRegions(img *image.Gray) []image.Rectangle {
	b := img.Bounds()
	visited := make([]bool, b.Dx()*b.Dy())
	idx := func(x, y int) int { return (y-b.Min.Y)*b.Dx() + (x - b.Min.X) }

	var regions []image.Rectangle
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.GrayAt(x, y).Y <= 128 || visited[idx(x, y)] {
				continue
			}
			regions = append(regions, fillRegion(img, visited, idx, x, y))
		}
	}
	return regions
}

// fillRegion flood-fills from a seed pixel and returns the region's bounds.
func fillRegion(img *image.Gray, visited []bool, idx func(x, y int) int, seedX, seedY int) image.Rectangle {
	b := img.Bounds()
	minX, minY, maxX, maxY := seedX, seedY, seedX, seedY

	stack := []image.Point{{X: seedX, Y: seedY}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.X < b.Min.X || p.X >= b.Max.X || p.Y < b.Min.Y || p.Y >= b.Max.Y {
			continue
		}
		if visited[idx(p.X, p.Y)] || img.GrayAt(p.X, p.Y).Y <= 128 {
			continue
		}
		visited[idx(p.X, p.Y)] = true

		minX = min(minX, p.X)
		maxX = max(maxX, p.X)
		minY = min(minY, p.Y)
		maxY = max(maxY, p.Y)

		stack = append(stack,
			image.Point{X: p.X + 1, Y: p.Y},
			image.Point{X: p.X - 1, Y: p.Y},
			image.Point{X: p.X, Y: p.Y + 1},
			image.Point{X: p.X, Y: p.Y - 1},
		)
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}
