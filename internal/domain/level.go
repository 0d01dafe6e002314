package domain

import "fmt"

// Level identifies one tier of the retrieval pyramid. The numeric
// values match the routing decision output: the coarsest tier is 0.
type Level int

const (
	LevelDigest  Level = 0
	LevelSummary Level = 1
	LevelDetail  Level = 2
)

func (l Level) String() string {
	switch l {
	case LevelDigest:
		return "digest"
	case LevelSummary:
		return "summary"
	case LevelDetail:
		return "detail"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Valid reports whether l is one of the three pyramid levels.
func (l Level) Valid() bool {
	return l >= LevelDigest && l <= LevelDetail
}

// ParseLevel accepts a tier name ("detail", "summary", "digest").
func ParseLevel(s string) (Level, error) {
	switch s {
	case "digest":
		return LevelDigest, nil
	case "summary":
		return LevelSummary, nil
	case "detail":
		return LevelDetail, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// Levels lists the pyramid levels from finest to coarsest, the order
// the ingestion cascade populates them.
func Levels() []Level {
	return []Level{LevelDetail, LevelSummary, LevelDigest}
}
