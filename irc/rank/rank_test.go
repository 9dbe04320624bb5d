package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bookseek/irc/parser"
)

func TestScoreVersionPrecedence(t *testing.T) {
	v3 := parser.BookRecord{Title: "The Great Gatsby v3", Format: "epub", Size: "1.2MB"}
	v4 := parser.BookRecord{Title: "The Great Gatsby v4", Format: "epub", Size: "1.2MB"}
	v5 := parser.BookRecord{Title: "The Great Gatsby v5", Format: "epub", Size: "1.2MB"}

	assert.Greater(t, Score(v4, ModeAuthor), Score(v3, ModeAuthor))
	assert.Greater(t, Score(v5, ModeAuthor), Score(v4, ModeAuthor))
}

func TestScoreAuthorModeV5Bonus(t *testing.T) {
	v5 := parser.BookRecord{Title: "Gatsby v5", Format: "epub", Size: "1MB"}
	assert.Equal(t, Score(v5, ModeAuthor)-Score(v5, ModeTitle), 50.0-sizeScore("1MB")*0.5)
}

func TestScoreFormatPreference(t *testing.T) {
	mk := func(format string) parser.BookRecord {
		return parser.BookRecord{Title: "Same Book", Format: format, Size: "1MB"}
	}
	assert.Greater(t, Score(mk("epub"), ModeTitle), Score(mk("mobi"), ModeTitle))
	assert.Greater(t, Score(mk("mobi"), ModeTitle), Score(mk("azw3"), ModeTitle))
	assert.Greater(t, Score(mk("azw3"), ModeTitle), Score(mk("pdf"), ModeTitle))
	assert.Greater(t, Score(mk("pdf"), ModeTitle), Score(mk("txt"), ModeTitle))
}

func TestScoreQualityKeyword(t *testing.T) {
	plain := parser.BookRecord{Title: "Gatsby", Format: "epub", Size: "1MB"}
	retail := parser.BookRecord{Title: "Gatsby (retail)", Format: "epub", Size: "1MB"}
	double := parser.BookRecord{Title: "Gatsby (retail) (complete)", Format: "epub", Size: "1MB"}

	assert.Equal(t, 25.0, Score(retail, ModeAuthor)-Score(plain, ModeAuthor))
	// the keyword bonus applies once
	assert.Equal(t, Score(retail, ModeAuthor), Score(double, ModeAuthor))
}

func TestSizeToMB(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"332.7KB", 0.3327},
		{"1.5MB", 1.5},
		{"2GB", 2000},
		{"500K", 0.5},
		{"1M", 1.0},
		{"Unknown", 0},
		{"", 0},
		{"garbage", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, SizeToMB(tt.text), 1e-9, "input %q", tt.text)
	}
}

func TestSizeScore(t *testing.T) {
	// reasonable ebook sizes land in the bonus band
	assert.Greater(t, sizeScore("1.5MB"), sizeScore("150MB"))
	// never negative
	assert.GreaterOrEqual(t, sizeScore("1KB"), 0.0)
	assert.Equal(t, 0.0, sizeScore("Unknown"))
	assert.Equal(t, 0.0, sizeScore(""))
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Great Gatsby", "great gatsby"},
		{"A Farewell to Arms", "farewell to arms"},
		{"An American Tragedy", "american tragedy"},
		{"The Great Gatsby (retail) [epub] v5", "great gatsby"},
		{"  Spaced   Out  ", "spaced out"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTitle(tt.in), "input %q", tt.in)
	}
}

func TestTitlesMatch(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		candidate string
		want      bool
	}{
		{"identical", "The Great Gatsby", "The Great Gatsby", true},
		{"article and markup differences", "Great Gatsby", "The Great Gatsby (retail) v5", true},
		{"containment", "Gatsby", "The Great Gatsby", true},
		{"different works", "The Great Gatsby", "Tender Is the Night", false},
		{"empty candidate", "Gatsby", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TitlesMatch(tt.target, tt.candidate))
			assert.Equal(t, tt.want, TitlesMatch(tt.candidate, tt.target), "relation must be symmetric")
		})
	}
}

func TestSelectBest(t *testing.T) {
	records := []parser.BookRecord{
		{Server: "a", Title: "Gatsby v3", Format: "epub", Size: "1MB"},
		{Server: "b", Title: "Gatsby v5", Format: "epub", Size: "1MB"},
		{Server: "c", Title: "Gatsby v4", Format: "epub", Size: "1MB"},
	}

	best := SelectBest(records, ModeAuthor)
	assert.NotNil(t, best)
	assert.Equal(t, "b", best.Server)

	assert.Nil(t, SelectBest(nil, ModeAuthor))
}

func TestBestPerTitle(t *testing.T) {
	records := []parser.BookRecord{
		{Server: "a", Title: "The Great Gatsby v3", Format: "epub", Size: "1MB"},
		{Server: "b", Title: "Great Gatsby v5", Format: "epub", Size: "1MB"},
		{Server: "c", Title: "Tender Is the Night", Format: "epub", Size: "1MB"},
	}

	unique := BestPerTitle(records, ModeAuthor)
	assert.Len(t, unique, 2, "version variants collapse to one title")

	servers := map[string]bool{}
	for _, rec := range unique {
		servers[rec.Server] = true
	}
	assert.True(t, servers["b"], "the v5 edition represents the Gatsby group")
	assert.True(t, servers["c"])

	// ranking the output again changes nothing
	again := BestPerTitle(unique, ModeAuthor)
	assert.Equal(t, unique, again)
}

func TestOrder(t *testing.T) {
	records := []parser.BookRecord{
		{Server: "low", Title: "Gatsby", Format: "txt", Size: "1MB"},
		{Server: "high", Title: "Gatsby v5 (retail)", Format: "epub", Size: "1.5MB"},
		{Server: "mid", Title: "Gatsby", Format: "epub", Size: "1MB"},
	}

	ordered := Order(records, ModeTitle)
	assert.Equal(t, []string{"high", "mid", "low"},
		[]string{ordered[0].Server, ordered[1].Server, ordered[2].Server})

	// the input order is untouched
	assert.Equal(t, "low", records[0].Server)
	assert.Len(t, ordered, len(records), "every record stays available as a fallback")
}
