package parser

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// FileTypes lists the recognized extensions in priority order. Archives stay
// last so that a real ebook extension inside a filename wins over the
// container's own extension.
var FileTypes = []string{
	"epub", "mobi", "azw3", "html", "rtf", "pdf", "cdr", "lit",
	"cbr", "doc", "htm", "jpg", "txt", "rar", "zip",
}

var archiveExtensions = map[string]bool{"rar": true, "zip": true}

// liveResultExtensions is the narrower heuristic applied to live chat lines.
var liveResultExtensions = []string{".epub", ".pdf", ".mobi", ".txt", ".zip", ".rar"}

// BookRecord is one catalog entry parsed from a bot announcement or an
// archive-delivered listing. Immutable once produced.
type BookRecord struct {
	Server      string `json:"server"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Format      string `json:"format"`
	Size        string `json:"size"`
	FullCommand string `json:"downloadCommand"` // exact string to resend for download
	RawLine     string `json:"rawLine"`
	SourceFile  string `json:"sourceFile,omitempty"`
	LineNumber  int    `json:"lineNumber,omitempty"`
}

// ParseError records a line that matched the result heuristic but defeated
// every parsing strategy. Never fatal.
type ParseError struct {
	Line string
	Err  string
	At   time.Time
}

// IsPotentialResult reports whether a live chat line looks like a search
// result: bot-prefix marker plus a known ebook extension.
func IsPotentialResult(line string) bool {
	if !strings.HasPrefix(line, "!") {
		return false
	}
	lower := strings.ToLower(line)
	for _, ext := range liveResultExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

func isBookLine(line string) bool {
	if !strings.HasPrefix(line, "!") {
		return false
	}
	lower := strings.ToLower(line)
	for _, ext := range FileTypes {
		if strings.Contains(lower, "."+ext) {
			return true
		}
	}
	return false
}

// ParseLines parses collected result lines, skipping blanks and anything no
// strategy understands.
func ParseLines(lines []string) ([]BookRecord, []ParseError) {
	var records []BookRecord
	var errs []ParseError

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rec := ParseLine(line)
		if rec != nil {
			records = append(records, *rec)
		} else if isBookLine(line) {
			errs = append(errs, ParseError{Line: line, Err: "no strategy matched", At: time.Now()})
		}
	}
	return records, errs
}

// ParseLine tries the ordered strategies against one line; first match wins.
// Returns nil when the line is not a book result.
func ParseLine(line string) *BookRecord {
	if !isBookLine(line) {
		return nil
	}
	for _, try := range []func(string) *BookRecord{
		parseInfoFormat,
		parseStandardFormat,
		parseSimpleFormat,
	} {
		if rec := try(line); rec != nil {
			return rec
		}
	}
	return nil
}

// parseInfoFormat handles lines with an explicit size-annotation marker:
//
//	!Ook F Scott Fitzgerald - The Great Gatsby.epub  ::INFO:: 332.7KB
func parseInfoFormat(line string) *BookRecord {
	mainPart, infoPart, found := strings.Cut(line, "::INFO::")
	if !found {
		return nil
	}
	mainPart = strings.TrimSpace(mainPart)
	size := strings.TrimSpace(infoPart)

	parts := strings.Fields(mainPart)
	if len(parts) < 2 {
		return nil
	}
	server := strings.TrimPrefix(parts[0], "!")
	content := strings.Join(parts[1:], " ")

	author, title, format := extractAuthorTitleFormat(content)
	return &BookRecord{
		Server:      server,
		Author:      author,
		Title:       title,
		Format:      format,
		Size:        size,
		FullCommand: mainPart,
		RawLine:     line,
	}
}

// parseStandardFormat handles bot lines without the size marker:
//
//	!Horla F Scott Fitzgerald - The Great Gatsby (retail) (epub).epub
func parseStandardFormat(line string) *BookRecord {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return nil
	}
	server := strings.TrimPrefix(parts[0], "!")
	content := strings.Join(parts[1:], " ")

	author, title, format := extractAuthorTitleFormat(content)
	return &BookRecord{
		Server:      server,
		Author:      author,
		Title:       title,
		Format:      format,
		Size:        "Unknown",
		FullCommand: strings.TrimSpace(line),
		RawLine:     line,
	}
}

// parseSimpleFormat is the permissive fallback: tag plus a best-effort guess
// at the rest.
func parseSimpleFormat(line string) *BookRecord {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return nil
	}
	server := strings.TrimPrefix(parts[0], "!")
	content := strings.Join(parts[1:], " ")

	format := "unknown"
	lower := strings.ToLower(content)
	for _, ext := range FileTypes {
		if strings.Contains(lower, "."+ext) {
			format = ext
			break
		}
	}

	return &BookRecord{
		Server:      server,
		Author:      "Unknown",
		Title:       content,
		Format:      format,
		Size:        "Unknown",
		FullCommand: strings.TrimSpace(line),
		RawLine:     line,
	}
}

var parenRegex = regexp.MustCompile(`\s*\([^)]*\)\s*`)

// extractAuthorTitleFormat splits the content portion of a result line into
// author, title and declared format.
func extractAuthorTitleFormat(content string) (author, title, format string) {
	format = "unknown"
	titleEnd := len(content)
	lower := strings.ToLower(content)

	for _, ext := range FileTypes {
		pos := strings.Index(lower, "."+ext)
		if pos == -1 {
			continue
		}
		format = ext
		titleEnd = pos

		// archives often wrap a real ebook; prefer the inner format
		if archiveExtensions[ext] {
			for _, inner := range FileTypes[:len(FileTypes)-2] {
				if strings.Contains(lower, inner) {
					format = inner
					break
				}
			}
		}
		break
	}

	titleContent := strings.TrimSpace(content[:titleEnd])

	if before, after, found := strings.Cut(titleContent, " - "); found {
		author = strings.TrimSpace(before)
		title = strings.TrimSpace(after)
	} else {
		words := strings.Fields(titleContent)
		if len(words) > 2 {
			author = strings.Join(words[:2], " ")
			title = strings.Join(words[2:], " ")
		} else {
			author = "Unknown"
			title = titleContent
		}
	}

	title = strings.TrimSpace(parenRegex.ReplaceAllString(title, " "))
	return author, title, format
}

// FilterOptions narrows and orders a parsed result set.
type FilterOptions struct {
	AuthorFilter     string
	FormatFilter     string
	PreferNonArchive bool
	EPUBOnly         bool
}

var formatPriority = map[string]int{"epub": 1, "mobi": 2, "azw3": 3, "pdf": 4, "txt": 5}

// FilterResults applies the option filters and sorts by format preference,
// then author, then title. The input slice is never mutated.
func FilterResults(records []BookRecord, opts FilterOptions) []BookRecord {
	filtered := make([]BookRecord, 0, len(records))
	filtered = append(filtered, records...)

	if opts.EPUBOnly {
		filtered = keep(filtered, func(r BookRecord) bool {
			return strings.EqualFold(r.Format, "epub")
		})
	}

	if opts.AuthorFilter != "" {
		needle := strings.ToLower(opts.AuthorFilter)
		filtered = keep(filtered, func(r BookRecord) bool {
			return strings.Contains(strings.ToLower(r.Author), needle) ||
				strings.Contains(strings.ToLower(r.Title), needle)
		})
	}

	if opts.FormatFilter != "" {
		filtered = keep(filtered, func(r BookRecord) bool {
			return strings.EqualFold(r.Format, opts.FormatFilter)
		})
	}

	if opts.PreferNonArchive && !opts.EPUBOnly {
		nonArchives := keep(append([]BookRecord(nil), filtered...), func(r BookRecord) bool {
			return !archiveExtensions[r.Format]
		})
		if len(nonArchives) > 0 {
			filtered = nonArchives
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		pi, ok := formatPriority[filtered[i].Format]
		if !ok {
			pi = 6
		}
		pj, ok := formatPriority[filtered[j].Format]
		if !ok {
			pj = 6
		}
		if pi != pj {
			return pi < pj
		}
		ai, aj := strings.ToLower(filtered[i].Author), strings.ToLower(filtered[j].Author)
		if ai != aj {
			return ai < aj
		}
		return strings.ToLower(filtered[i].Title) < strings.ToLower(filtered[j].Title)
	})

	return filtered
}

func keep(records []BookRecord, pred func(BookRecord) bool) []BookRecord {
	out := records[:0]
	for _, r := range records {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}
