package tracks

import (
	"math"
	"sort"
)

// SpatialIndex is a regular grid over detection positions. With the cell
// size equal to the search radius, every detection within the radius of a
// query point lies in the 3×3 block of cells around it.
type SpatialIndex struct {
	CellSize float64
	Grid     map[int64][]int // cell ID → detection indices
}

// NewSpatialIndex creates an empty index with the given cell size.
func NewSpatialIndex(cellSize float64) *SpatialIndex {
	return &SpatialIndex{
		CellSize: cellSize,
		Grid:     make(map[int64][]int),
	}
}

// Build indexes the detections by position.
func (si *SpatialIndex) Build(detections []Detection) {
	si.Grid = make(map[int64][]int, len(detections))
	for i, d := range detections {
		id := cellID(si.cell(d.X), si.cell(d.Y))
		si.Grid[id] = append(si.Grid[id], i)
	}
}

func (si *SpatialIndex) cell(v float64) int64 {
	return int64(math.Floor(v / si.CellSize))
}

// cellID maps signed cell coordinates to a unique key with zigzag encoding
// followed by Szudzik's pairing function.
func cellID(cx, cy int64) int64 {
	a := zigzag(cx)
	b := zigzag(cy)
	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}

func zigzag(v int64) int64 {
	if v >= 0 {
		return 2 * v
	}
	return -2*v - 1
}

// Within returns the indices of detections strictly closer than radius to
// (x, y), in ascending index order. radius must not exceed CellSize.
func (si *SpatialIndex) Within(detections []Detection, x, y, radius float64) []int {
	cx, cy := si.cell(x), si.cell(y)
	var out []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, idx := range si.Grid[cellID(cx+dx, cy+dy)] {
				d := detections[idx]
				if math.Hypot(d.X-x, d.Y-y) < radius {
					out = append(out, idx)
				}
			}
		}
	}
	sort.Ints(out)
	return out
}
