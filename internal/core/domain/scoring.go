package domain

import (
	"fmt"
	"strings"
)

// Level is an ordered score used for both confidence and threat level.
type Level int8

const (
	LevelUnknown Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelVeryHigh
)

var levelNames = [...]string{"unknown", "low", "medium", "high", "very_high"}

func (l Level) String() string {
	if l < LevelUnknown || int(l) >= len(levelNames) {
		return levelNames[LevelUnknown]
	}
	return levelNames[l]
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel accepts the level names plus a few spellings the feeds use.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown", "none":
		return LevelUnknown, nil
	case "low", "info":
		return LevelLow, nil
	case "medium", "med":
		return LevelMedium, nil
	case "high":
		return LevelHigh, nil
	case "very_high", "very-high", "veryhigh", "critical":
		return LevelVeryHigh, nil
	}
	return LevelUnknown, fmt.Errorf("unknown level %q", s)
}

// ScorePolicy combines the stored level with the level attributed by a new
// sighting.
type ScorePolicy func(current, incoming Level) Level

// MaxLevel never lowers a score.
func MaxLevel(current, incoming Level) Level {
	if incoming > current {
		return incoming
	}
	return current
}

// LatestLevel takes the newest attribution unless the feed gave none.
func LatestLevel(current, incoming Level) Level {
	if incoming == LevelUnknown {
		return current
	}
	return incoming
}

// ConfidenceScore maps a record to a 0-100 score for exporters.
// Multiple sources corroborating the indicator raise the score.
func ConfidenceScore(r Record) int {
	score := 50 + 10*int(r.Confidence)
	switch n := len(r.Sources); {
	case n >= 3:
		score += 15
	case n == 2:
		score += 10
	}
	if r.SeenCount > 5 {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}
