package rank

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"bookseek/irc/parser"
)

// Mode selects the scoring emphasis: author-level discovery favors newer
// versions, title-level lookup additionally favors larger (more complete)
// files.
type Mode string

const (
	ModeAuthor Mode = "author"
	ModeTitle  Mode = "title"
)

var qualityKeywords = []string{"retail", "final", "complete", "unabridged", "original"}

var formatScores = map[string]float64{
	"epub": 30.0,
	"mobi": 20.0,
	"azw3": 15.0,
	"pdf":  10.0,
	"txt":  5.0,
}

// Score computes the quality score for one record in the given mode. The
// score is derived, never stored on the record, so re-ranking always works
// from fresh numbers.
func Score(rec parser.BookRecord, mode Mode) float64 {
	var score float64
	title := strings.ToLower(rec.Title)

	// version markers outweigh everything else
	switch {
	case strings.Contains(title, "v5"):
		score += 100.0
	case strings.Contains(title, "v4"):
		score += 80.0
	case strings.Contains(title, "v3"):
		score += 60.0
	case strings.Contains(title, "v2"):
		score += 40.0
	case strings.Contains(title, "v1"):
		score += 20.0
	}

	sizeComponent := sizeScore(rec.Size)
	score += sizeComponent

	score += formatScores[strings.ToLower(rec.Format)]

	for _, kw := range qualityKeywords {
		if strings.Contains(title, kw) {
			score += 25.0
			break
		}
	}

	switch mode {
	case ModeAuthor:
		if strings.Contains(title, "v5") {
			score += 50.0
		}
	case ModeTitle:
		score += sizeComponent * 0.5
	}

	return score
}

var sizeRegex = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([KMGT]?B?)`)

var sizeMultipliers = map[string]float64{
	"B":  0.000001,
	"KB": 0.001, "K": 0.001,
	"MB": 1.0, "M": 1.0,
	"GB": 1000.0, "G": 1000.0,
	"TB": 1000000.0, "T": 1000000.0,
}

// SizeToMB parses a declared size like "332.7KB" into megabytes. Returns 0
// for anything unparseable.
func SizeToMB(sizeText string) float64 {
	m := sizeRegex.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(sizeText)))
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	unit := m[2]
	if unit == "" {
		unit = "B"
	}
	mult, ok := sizeMultipliers[unit]
	if !ok {
		mult = 1.0
	}
	return n * mult
}

// sizeScore turns a declared size into a score: logarithmic so huge files do
// not dominate, with a bonus band for reasonable ebook sizes and a penalty
// above it.
func sizeScore(sizeText string) float64 {
	if sizeText == "" || sizeText == "Unknown" {
		return 0
	}
	sizeMB := SizeToMB(sizeText)
	if sizeMB <= 0 {
		return 0
	}

	score := math.Log10(math.Max(sizeMB, 0.1)) * 10.0
	switch {
	case sizeMB >= 0.5 && sizeMB <= 50:
		score += 20.0
	case sizeMB > 100:
		score -= 10.0
	}
	return math.Max(score, 0)
}

var (
	parenContent   = regexp.MustCompile(`\s*\([^)]*\)\s*`)
	bracketContent = regexp.MustCompile(`\s*\[[^\]]*\]\s*`)
	versionToken   = regexp.MustCompile(`\s*v\d+\s*`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

// NormalizeTitle lowercases, strips leading articles, parenthetical and
// bracketed content and inline version tokens, and collapses whitespace.
func NormalizeTitle(title string) string {
	normalized := strings.ToLower(strings.TrimSpace(title))
	if normalized == "" {
		return ""
	}

	for _, prefix := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(normalized, prefix) {
			normalized = normalized[len(prefix):]
			break
		}
	}

	normalized = parenContent.ReplaceAllString(normalized, " ")
	normalized = bracketContent.ReplaceAllString(normalized, " ")
	normalized = versionToken.ReplaceAllString(normalized, " ")
	normalized = whitespaceRun.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}

// TitlesMatch reports whether two titles refer to the same work after
// normalization: equal, one contains the other, or word-set overlap ratio of
// at least 0.7. The relation is symmetric.
func TitlesMatch(target, candidate string) bool {
	target = NormalizeTitle(target)
	candidate = NormalizeTitle(candidate)
	if target == "" || candidate == "" {
		return false
	}
	if target == candidate {
		return true
	}
	if strings.Contains(candidate, target) || strings.Contains(target, candidate) {
		return true
	}

	targetWords := wordSet(target)
	candidateWords := wordSet(candidate)
	if len(targetWords) == 0 || len(candidateWords) == 0 {
		return false
	}

	overlap := 0
	for w := range targetWords {
		if candidateWords[w] {
			overlap++
		}
	}
	union := len(targetWords) + len(candidateWords) - overlap
	return float64(overlap)/float64(union) >= 0.7
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

// SelectBest returns the highest-scoring record of a group, or nil for an
// empty group.
func SelectBest(records []parser.BookRecord, mode Mode) *parser.BookRecord {
	if len(records) == 0 {
		return nil
	}
	best := records[0]
	bestScore := Score(best, mode)
	for _, rec := range records[1:] {
		if s := Score(rec, mode); s > bestScore {
			best = rec
			bestScore = s
		}
	}
	return &best
}

// BestPerTitle collapses a record set to one representative per normalized
// title, ordered by title. Idempotent: ranking its own output again yields
// the same records.
func BestPerTitle(records []parser.BookRecord, mode Mode) []parser.BookRecord {
	groups := make(map[string][]parser.BookRecord)
	var order []string
	for _, rec := range records {
		key := NormalizeTitle(rec.Title)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	out := make([]parser.BookRecord, 0, len(order))
	for _, key := range order {
		if best := SelectBest(groups[key], mode); best != nil {
			out = append(out, *best)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Title < out[j].Title
	})
	return out
}

// Order returns a new slice sorted by score descending, preserving every
// record as a fallback candidate. The input is never mutated.
func Order(records []parser.BookRecord, mode Mode) []parser.BookRecord {
	out := make([]parser.BookRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return Score(out[i], mode) > Score(out[j], mode)
	})
	return out
}
