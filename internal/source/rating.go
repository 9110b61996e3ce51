package source

import (
	"fmt"
	"strings"
)

// Rating is the canonical content rating. Source-specific values map onto it.
type Rating int

const (
	RatingUnknown Rating = iota
	RatingGeneral
	RatingSensitive
	RatingQuestionable
	RatingExplicit
)

var ratingNames = map[Rating]string{
	RatingUnknown:      "unknown",
	RatingGeneral:      "general",
	RatingSensitive:    "sensitive",
	RatingQuestionable: "questionable",
	RatingExplicit:     "explicit",
}

// ParseRating maps a loosely spelled rating onto the canonical set.
// "s" is read as "safe", which is how Moebooru and Gelbooru-style sites use it.
func ParseRating(s string) Rating {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s", "safe", "g", "general":
		return RatingGeneral
	case "sensitive":
		return RatingSensitive
	case "q", "questionable":
		return RatingQuestionable
	case "e", "explicit":
		return RatingExplicit
	default:
		return RatingUnknown
	}
}

func (r Rating) String() string {
	if name, ok := ratingNames[r]; ok {
		return name
	}
	return ratingNames[RatingUnknown]
}

func (r Rating) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Rating) UnmarshalText(b []byte) error {
	for k, v := range ratingNames {
		if v == string(b) {
			*r = k
			return nil
		}
	}
	return fmt.Errorf("unknown rating %q", b)
}
