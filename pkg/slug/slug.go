package slug

import (
	"fmt"
	"math/rand/v2"
)

// Generated subdomains follow the adjective-noun-number shape, e.g.
// "happy-river-42". Uniqueness is enforced by the database; callers retry on
// collision.

var adjectives = []string{
	"amber", "ancient", "bold", "brave", "bright", "calm", "clever", "cool",
	"crimson", "curly", "eager", "early", "fancy", "fast", "gentle", "golden",
	"happy", "hidden", "humble", "icy", "jolly", "kind", "late", "lively",
	"lucky", "mellow", "misty", "noble", "odd", "polished", "proud", "quiet",
	"rapid", "rough", "shiny", "silent", "smooth", "snowy", "spring", "steep",
	"still", "sunny", "swift", "tiny", "warm", "wild", "windy", "young",
}

var nouns = []string{
	"bay", "bird", "breeze", "brook", "canyon", "cloud", "coast", "creek",
	"dawn", "dew", "dream", "dust", "field", "fire", "fog", "forest", "frost",
	"glade", "grass", "harbor", "hill", "lake", "leaf", "meadow", "moon",
	"mountain", "night", "ocean", "pine", "pond", "rain", "reef", "ridge",
	"river", "sea", "shadow", "sky", "snow", "sound", "star", "stone", "storm",
	"stream", "sun", "thunder", "tide", "tree", "wave", "wind", "wood",
}

// Generate returns a new random subdomain slug.
func Generate() string {
	return fmt.Sprintf("%s-%s-%d",
		adjectives[rand.IntN(len(adjectives))],
		nouns[rand.IntN(len(nouns))],
		rand.IntN(100),
	)
}
