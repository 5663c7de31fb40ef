package content

import "math/rand/v2"

// Default sticker sets.
var (
	DefaultStickers = []string{
		"CAACAgUAAxkBAAIBZ2YVBLX8gH3qtxZfZUXkJXx6N4bqAAJwAQACGvDFVYIQUYCKrEGZNAQ",
		"CAACAgUAAxkBAAIBamYVBNeH4JqUsGMeqZ3i3N-X6nQaAAJnAQACGvDFVfJ52SctP14LNAQ",
	}
	DefaultMixedStickers = []string{
		"CAACAgUAAxkBAAIBZ2YVBLX8gH3qtxZfZUXkJXx6N4bqAAJwAQACGvDFVYIQUYCKrEGZNAQ",
	}
)

// Rand is the randomness the resolver needs. *rand.Rand satisfies it.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// pick chooses uniformly from set. set must be non-empty.
func pick(r Rand, set []string) string {
	if len(set) == 1 {
		return set[0]
	}
	return set[r.IntN(len(set))]
}
