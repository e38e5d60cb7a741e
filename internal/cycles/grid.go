package cycles

import "math"

// cell addresses one grid square.
type cell struct {
	X, Z int
}

// CollisionGrid maps grid cells to the first cycle that occupied them. A
// cell's owner never changes within a round.
type CollisionGrid struct {
	cellSize float64
	owners   map[cell]string
}

func NewCollisionGrid(cellSize float64) *CollisionGrid {
	return &CollisionGrid{
		cellSize: cellSize,
		owners:   make(map[cell]string),
	}
}

func (g *CollisionGrid) CellAt(p Coord) cell {
	return cell{
		X: int(math.Floor(p.X / g.cellSize)),
		Z: int(math.Floor(p.Z / g.cellSize)),
	}
}

// Center returns the world-space center of a cell.
func (g *CollisionGrid) Center(c cell) Coord {
	return Coord{
		X: (float64(c.X) + 0.5) * g.cellSize,
		Z: (float64(c.Z) + 0.5) * g.cellSize,
	}
}

// Owner returns the owning player id of a cell, if any.
func (g *CollisionGrid) Owner(c cell) (string, bool) {
	owner, ok := g.owners[c]
	return owner, ok
}

// Claim marks a cell for a player unless it is already owned. Returns the
// resulting owner and whether the claim took effect.
func (g *CollisionGrid) Claim(c cell, playerID string) (string, bool) {
	if owner, ok := g.owners[c]; ok {
		return owner, false
	}
	g.owners[c] = playerID
	return playerID, true
}

// Reset clears every owned cell for the next round.
func (g *CollisionGrid) Reset() {
	g.owners = make(map[cell]string)
}

// Size returns the number of owned cells.
func (g *CollisionGrid) Size() int {
	return len(g.owners)
}

// line walks the cells between two cells with Bresenham's algorithm,
// inclusive of both endpoints, in order from a to b.
func line(a, b cell) []cell {
	dx := abs(b.X - a.X)
	dz := abs(b.Z - a.Z)
	sx := sign(b.X - a.X)
	sz := sign(b.Z - a.Z)

	cells := make([]cell, 0, dx+dz+1)
	x, z := a.X, a.Z
	errAcc := dx - dz
	for {
		cells = append(cells, cell{x, z})
		if x == b.X && z == b.Z {
			return cells
		}
		e2 := 2 * errAcc
		if e2 > -dz {
			errAcc -= dz
			x += sx
		}
		if e2 < dx {
			errAcc += dx
			z += sz
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
