package cycles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellAtFloorsNegativeCoords(t *testing.T) {
	g := NewCollisionGrid(2)
	assert.Equal(t, cell{0, 0}, g.CellAt(Coord{0.5, 1.9}))
	assert.Equal(t, cell{-1, -1}, g.CellAt(Coord{-0.5, -1.9}))
	assert.Equal(t, cell{-2, 2}, g.CellAt(Coord{-3.1, 4.0}))
}

func TestClaimFirstOwnerWins(t *testing.T) {
	g := NewCollisionGrid(2)
	c := cell{3, 4}

	owner, claimed := g.Claim(c, "p1")
	assert.True(t, claimed)
	assert.Equal(t, "p1", owner)

	// Once owned, a cell is never reassigned.
	owner, claimed = g.Claim(c, "p2")
	assert.False(t, claimed)
	assert.Equal(t, "p1", owner)

	got, ok := g.Owner(c)
	assert.True(t, ok)
	assert.Equal(t, "p1", got)
}

func TestResetClearsOwnership(t *testing.T) {
	g := NewCollisionGrid(2)
	g.Claim(cell{1, 1}, "p1")
	g.Claim(cell{2, 2}, "p2")
	require.Equal(t, 2, g.Size())

	g.Reset()
	assert.Zero(t, g.Size())
	_, ok := g.Owner(cell{1, 1})
	assert.False(t, ok)
}

func TestLineStraight(t *testing.T) {
	cells := line(cell{0, 0}, cell{3, 0})
	assert.Equal(t, []cell{{0, 0}, {1, 0}, {2, 0}, {3, 0}}, cells)

	cells = line(cell{0, 3}, cell{0, 0})
	assert.Equal(t, []cell{{0, 3}, {0, 2}, {0, 1}, {0, 0}}, cells)
}

func TestLineDiagonalAndDegenerate(t *testing.T) {
	cells := line(cell{0, 0}, cell{2, 2})
	assert.Equal(t, []cell{{0, 0}, {1, 1}, {2, 2}}, cells)

	cells = line(cell{5, 5}, cell{5, 5})
	assert.Equal(t, []cell{{5, 5}}, cells)
}

func TestLineCoversEveryColumn(t *testing.T) {
	cells := line(cell{0, 0}, cell{7, 3})
	assert.Equal(t, cell{0, 0}, cells[0])
	assert.Equal(t, cell{7, 3}, cells[len(cells)-1])

	seen := make(map[int]bool)
	for _, c := range cells {
		seen[c.X] = true
	}
	for x := 0; x <= 7; x++ {
		assert.True(t, seen[x], "column %d visited", x)
	}
}
