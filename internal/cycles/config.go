// Package cycles is the light-cycle arena plugin: a fixed-timestep
// deterministic simulation where only turn destinations cross the wire and
// everything between them is replayed from (position, direction, speed).
package cycles

// Config is the per-room simulation configuration. The arena is square,
// side ArenaSize, centered at the origin.
type Config struct {
	ArenaSize     float64 `json:"arenaSize"`
	GridSize      float64 `json:"gridSize"`
	Speed         float64 `json:"speed"`
	TurnDelay     float64 `json:"turnDelay"` // seconds between turns per cycle
	WrapAround    bool    `json:"wrapAround"`
	SelfCollision bool    `json:"selfCollision"`
	RoundsToWin   int     `json:"roundsToWin"`
	Countdown     int     `json:"countdown"` // seconds before each round
}

func DefaultConfig() Config {
	return Config{
		ArenaSize:     100,
		GridSize:      2,
		Speed:         20,
		TurnDelay:     0.1,
		WrapAround:    true,
		SelfCollision: true,
		RoundsToWin:   3,
		Countdown:     3,
	}
}

// configFromData overlays a settings bag (decoded JSON, so numbers arrive as
// float64) onto a base config, clamping everything to sane simulation bounds.
func configFromData(base Config, data map[string]any) Config {
	cfg := base
	if data == nil {
		return cfg
	}
	if v, ok := toFloat(data["arenaSize"]); ok {
		cfg.ArenaSize = clamp(v, 20, 500)
	}
	if v, ok := toFloat(data["gridSize"]); ok {
		cfg.GridSize = clamp(v, 0.5, 10)
	}
	if v, ok := toFloat(data["speed"]); ok {
		cfg.Speed = clamp(v, 1, 100)
	}
	if v, ok := toFloat(data["turnDelay"]); ok {
		cfg.TurnDelay = clamp(v, 0.05, 1)
	}
	if v, ok := data["wrapAround"].(bool); ok {
		cfg.WrapAround = v
	}
	if v, ok := data["selfCollision"].(bool); ok {
		cfg.SelfCollision = v
	}
	if v, ok := toFloat(data["roundsToWin"]); ok {
		cfg.RoundsToWin = int(clamp(v, 1, 20))
	}
	if v, ok := toFloat(data["countdown"]); ok {
		cfg.Countdown = int(clamp(v, 0, 10))
	}
	return cfg
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
