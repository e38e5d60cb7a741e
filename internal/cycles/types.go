package cycles

import "math"

// Coord is a point or direction on the arena plane.
type Coord struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

func (c Coord) Add(o Coord) Coord     { return Coord{c.X + o.X, c.Z + o.Z} }
func (c Coord) Scale(f float64) Coord { return Coord{c.X * f, c.Z * f} }
func (c Coord) DistanceTo(o Coord) float64 {
	dx, dz := c.X-o.X, c.Z-o.Z
	return math.Sqrt(dx*dx + dz*dz)
}

// rotated returns the direction turned 90 degrees. turnDir +1 is a right
// turn, -1 a left turn: (x, z) -> (-z*t, x*t).
func (c Coord) rotated(turnDir int) Coord {
	t := float64(turnDir)
	return Coord{-c.Z * t, c.X * t}
}

// Destination is the only per-turn wire event. Movement between destinations
// is replayed deterministically from direction, speed and odometer distance.
type Destination struct {
	Position  Coord   `json:"position"`
	Direction Coord   `json:"direction"`
	Distance  float64 `json:"distance"`
	GameTime  float64 `json:"gameTime"`
	MessageID uint64  `json:"messageId"`
	PlayerID  string  `json:"playerId"`
}

// less orders destinations by (distance, gameTime, messageId).
func (d Destination) less(o Destination) bool {
	if d.Distance != o.Distance {
		return d.Distance < o.Distance
	}
	if d.GameTime != o.GameTime {
		return d.GameTime < o.GameTime
	}
	return d.MessageID < o.MessageID
}

// WallSegment is a straight run of trail between two successive destinations.
type WallSegment struct {
	Start         Coord   `json:"start"`
	End           Coord   `json:"end"`
	DistanceStart float64 `json:"distanceStart"`
	DistanceEnd   float64 `json:"distanceEnd"`
	TimeStart     float64 `json:"timeStart"`
	TimeEnd       float64 `json:"timeEnd"`
	OwnerID       string  `json:"ownerId"`
	IsDangerous   bool    `json:"isDangerous"`
}

// PlayerWall is the completed segments plus one open segment whose end
// advances every tick.
type PlayerWall struct {
	Segments []WallSegment `json:"segments"`
	Current  *WallSegment  `json:"current,omitempty"`
}

// close seals the open segment at pos and opens a new one starting there.
func (w *PlayerWall) close(pos Coord, distance, gameTime float64, ownerID string) {
	if w.Current != nil {
		w.Current.End = pos
		w.Current.DistanceEnd = distance
		w.Current.TimeEnd = gameTime
		w.Segments = append(w.Segments, *w.Current)
	}
	w.open(pos, distance, gameTime, ownerID)
}

func (w *PlayerWall) open(pos Coord, distance, gameTime float64, ownerID string) {
	w.Current = &WallSegment{
		Start:         pos,
		End:           pos,
		DistanceStart: distance,
		DistanceEnd:   distance,
		TimeStart:     gameTime,
		TimeEnd:       gameTime,
		OwnerID:       ownerID,
		IsDangerous:   true,
	}
}

// extend advances the open segment's head.
func (w *PlayerWall) extend(pos Coord, distance, gameTime float64) {
	if w.Current == nil {
		return
	}
	w.Current.End = pos
	w.Current.DistanceEnd = distance
	w.Current.TimeEnd = gameTime
}

// Cycle is one light cycle's full simulation state.
type Cycle struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Color    string `json:"color"`

	Position  Coord   `json:"position"`
	Direction Coord   `json:"direction"`
	Speed     float64 `json:"speed"`
	Distance  float64 `json:"distance"` // odometer since spawn
	Alive     bool    `json:"alive"`

	SpawnPosition Coord   `json:"-"`
	SpawnTime     float64 `json:"-"`

	LastTurnPosition Coord   `json:"-"`
	LastTurnTime     float64 `json:"-"`
	TurnCount        int     `json:"-"`

	// Destinations are strictly ordered by (distance, gameTime, messageId);
	// index 0 is the spawn.
	Destinations []Destination `json:"-"`
	Wall         PlayerWall    `json:"-"`

	Score int  `json:"score"`
	Ready bool `json:"ready"`
}

// InsertDestination inserts in sorted order, dropping duplicates by
// (messageId, playerId). Returns true if the list changed and the inserted
// destination is now the latest.
func (c *Cycle) InsertDestination(d Destination) (inserted, latest bool) {
	for _, existing := range c.Destinations {
		if existing.MessageID == d.MessageID && existing.PlayerID == d.PlayerID {
			return false, false
		}
	}
	i := len(c.Destinations)
	for i > 0 && d.less(c.Destinations[i-1]) {
		i--
	}
	c.Destinations = append(c.Destinations, Destination{})
	copy(c.Destinations[i+1:], c.Destinations[i:])
	c.Destinations[i] = d
	return true, i == len(c.Destinations)-1
}

// snapshot is the per-cycle slice of the periodic full sync.
type snapshot struct {
	ID        string  `json:"id"`
	Position  Coord   `json:"position"`
	Direction Coord   `json:"direction"`
	Distance  float64 `json:"distance"`
	Speed     float64 `json:"speed"`
	Alive     bool    `json:"alive"`
}
