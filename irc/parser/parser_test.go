package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPotentialResult(t *testing.T) {
	tests := []struct {
		name string
		line string
		want bool
	}{
		{"info format line", "!Ook F Scott Fitzgerald - The Great Gatsby.epub  ::INFO:: 332.7KB", true},
		{"zip result", "!Horla search results for gatsby.zip", true},
		{"uppercase extension", "!Peer Some Author - Some Book.EPUB", true},
		{"no bot prefix", "hey has anyone read the great gatsby", false},
		{"bot prefix without extension", "!Peer hello there", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPotentialResult(tt.line))
		})
	}
}

func TestParseLineInfoFormat(t *testing.T) {
	rec := ParseLine("!Ook F Scott Fitzgerald - The Great Gatsby.epub  ::INFO:: 332.7KB")
	require.NotNil(t, rec)

	assert.Equal(t, "Ook", rec.Server)
	assert.Equal(t, "F Scott Fitzgerald", rec.Author)
	assert.Equal(t, "The Great Gatsby", rec.Title)
	assert.Equal(t, "epub", rec.Format)
	assert.Equal(t, "332.7KB", rec.Size)
	assert.Equal(t, "!Ook F Scott Fitzgerald - The Great Gatsby.epub", rec.FullCommand)
}

func TestParseLineStandardFormat(t *testing.T) {
	rec := ParseLine("!Horla F Scott Fitzgerald - The Great Gatsby (retail) (epub).epub")
	require.NotNil(t, rec)

	assert.Equal(t, "Horla", rec.Server)
	assert.Equal(t, "F Scott Fitzgerald", rec.Author)
	assert.Equal(t, "The Great Gatsby", rec.Title)
	assert.Equal(t, "epub", rec.Format)
	assert.Equal(t, "Unknown", rec.Size)
	assert.Equal(t, "!Horla F Scott Fitzgerald - The Great Gatsby (retail) (epub).epub", rec.FullCommand)
}

func TestParseLineAuthorGuess(t *testing.T) {
	// without a separator the first two words are taken as the author
	rec := ParseLine("!Pondering42 Francis Fitzgerald Great Gatsby.mobi")
	require.NotNil(t, rec)

	assert.Equal(t, "Pondering42", rec.Server)
	assert.Equal(t, "Francis Fitzgerald", rec.Author)
	assert.Equal(t, "Great Gatsby", rec.Title)
	assert.Equal(t, "mobi", rec.Format)
}

func TestParseLineArchiveInnerFormat(t *testing.T) {
	rec := ParseLine("!Bookworm J R R Tolkien - The Hobbit epub.rar")
	require.NotNil(t, rec)
	assert.Equal(t, "epub", rec.Format, "inner format should win over the container")
}

func TestParseLineRejections(t *testing.T) {
	assert.Nil(t, ParseLine("random channel chatter"))
	assert.Nil(t, ParseLine("!Peer hello there"))
	assert.Nil(t, ParseLine(""))
}

func TestParseLines(t *testing.T) {
	lines := []string{
		"!Ook F Scott Fitzgerald - The Great Gatsby.epub  ::INFO:: 332.7KB",
		"",
		"   ",
		"!Horla F Scott Fitzgerald - Tender Is the Night.pdf",
	}

	records, errs := ParseLines(lines)
	assert.Len(t, records, 2)
	assert.Empty(t, errs)
	assert.Equal(t, "Ook", records[0].Server)
	assert.Equal(t, "Horla", records[1].Server)
}

func TestFilterResults(t *testing.T) {
	records := []BookRecord{
		{Server: "a", Author: "F Scott Fitzgerald", Title: "The Great Gatsby", Format: "pdf"},
		{Server: "b", Author: "F Scott Fitzgerald", Title: "The Great Gatsby", Format: "epub"},
		{Server: "c", Author: "Ernest Hemingway", Title: "The Sun Also Rises", Format: "epub"},
		{Server: "d", Author: "F Scott Fitzgerald", Title: "Collected Works", Format: "rar"},
	}

	t.Run("author filter", func(t *testing.T) {
		got := FilterResults(records, FilterOptions{AuthorFilter: "fitzgerald"})
		assert.Len(t, got, 3)
		for _, r := range got {
			assert.Contains(t, r.Author, "Fitzgerald")
		}
	})

	t.Run("epub only", func(t *testing.T) {
		got := FilterResults(records, FilterOptions{EPUBOnly: true})
		assert.Len(t, got, 2)
		for _, r := range got {
			assert.Equal(t, "epub", r.Format)
		}
	})

	t.Run("prefer non archive drops containers when alternatives exist", func(t *testing.T) {
		got := FilterResults(records, FilterOptions{PreferNonArchive: true})
		assert.Len(t, got, 3)
		for _, r := range got {
			assert.NotEqual(t, "rar", r.Format)
		}
	})

	t.Run("archives survive when they are all there is", func(t *testing.T) {
		archOnly := []BookRecord{{Server: "d", Author: "X", Title: "Y", Format: "rar"}}
		got := FilterResults(archOnly, FilterOptions{PreferNonArchive: true})
		assert.Len(t, got, 1)
	})

	t.Run("sorted by format preference", func(t *testing.T) {
		got := FilterResults(records, FilterOptions{})
		require.NotEmpty(t, got)
		assert.Equal(t, "epub", got[0].Format)
	})

	t.Run("input is not mutated", func(t *testing.T) {
		before := records[0]
		_ = FilterResults(records, FilterOptions{EPUBOnly: true})
		assert.Equal(t, before, records[0])
	})
}
