package nick

import (
	"fmt"
	"math/rand"
)

// IRC nicknames are capped at 16 characters on most networks.
const maxNickLength = 16

var adjectives = []string{
	"Dark", "Web", "Quick", "Silent", "Swift", "Digital", "Cyber", "Net",
}

var nouns = []string{
	"Horse", "Wolf", "Eagle", "Lion", "Hawk", "Fox", "Bear", "Tiger",
}

const lowercase = "abcdefghijklmnopqrstuvwxyz"

// Generate returns a pseudo-random, protocol-legal display handle,
// e.g. "SwiftFox482" or "CyberWolf731_qk".
func Generate() string {
	base := fmt.Sprintf("%s%s%d",
		adjectives[rand.Intn(len(adjectives))],
		nouns[rand.Intn(len(nouns))],
		rand.Intn(900)+100)

	if rand.Intn(2) == 0 {
		suffix := make([]byte, 2)
		for i := range suffix {
			suffix[i] = lowercase[rand.Intn(len(lowercase))]
		}
		if rand.Intn(2) == 0 {
			base += "_"
		}
		base += string(suffix)
	}

	if len(base) > maxNickLength {
		base = base[:maxNickLength]
	}
	return base
}
