package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Catalog bots usually deliver large result sets as a zip of text listings.
// Listing parsing takes priority; extracting contained ebooks is the
// fallback, bounded to keep a hostile archive from flooding the disk.
const maxExtractedFiles = 10

var listingExtensions = []string{".txt", ".log", ".list", ".dat"}

// PreferredFormat is extracted first when falling back to contained ebooks.
const PreferredFormat = "epub"

var fallbackFormats = []string{".mobi", ".azw3", ".pdf", ".rtf", ".lit", ".html"}

// validListingExtensions is the allow-list applied to archive-delivered
// listing lines. Wider than the live-line heuristic because listings carry
// the bots' full catalogs.
var validListingExtensions = map[string]bool{
	"epub": true, "mobi": true, "azw": true, "azw3": true, "pdf": true,
	"txt": true, "html": true, "htm": true, "rtf": true, "doc": true,
	"docx": true, "lit": true, "pdb": true, "fb2": true, "djvu": true,
	"chm": true,
}

// Ordered listing-line layouts; first match wins.
var listingPatterns = []*regexp.Regexp{
	// !server author - title.ext ::INFO:: size
	regexp.MustCompile(`(?i)^!([^>]+?)\s+(.+?)\s+-\s+(.+?)\.([a-zA-Z0-9]+)\s+::INFO::\s+(.+)$`),
	// !server author - title.ext size
	regexp.MustCompile(`(?i)^!([^>]+?)\s+(.+?)\s+-\s+(.+?)\.([a-zA-Z0-9]+)\s+(.+)$`),
	// <!server> author - title.ext size
	regexp.MustCompile(`(?i)^<!([^>]+)>\s+(.+?)\s+-\s+(.+?)\.([a-zA-Z0-9]+)\s+(.+)$`),
	// server author - title.ext size
	regexp.MustCompile(`(?i)^([^!\s]+)\s+(.+?)\s+-\s+(.+?)\.([a-zA-Z0-9]+)\s+(.+)$`),
}

// byte counts first: the unit pattern would otherwise grab a partial match
// out of "2,345 bytes"
var sizePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+(?:,\d+)*\s*bytes?)`),
	regexp.MustCompile(`(?i)(\d+(?:\.\d+)?\s*[KMGT]?B)`),
	regexp.MustCompile(`(?i)(\d+(?:\.\d+)?\s*[KMGT])`),
}

// ArchiveResult is what came out of one downloaded archive: parsed listing
// records when the archive held text listings, otherwise the paths of the
// ebook files extracted from it.
type ArchiveResult struct {
	Records        []BookRecord
	ExtractedFiles []string
}

// ParseArchive inspects a downloaded zip. Corrupt archives and archives with
// no usable content degrade to an empty result, never an error the caller
// must branch on.
func ParseArchive(archivePath string, log *slog.Logger) ArchiveResult {
	var out ArchiveResult

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		log.Warn("not a readable archive", "path", archivePath, "err", err)
		return out
	}
	defer zr.Close()

	var listings, ebooks, fallbacks []*zip.File
	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		switch {
		case hasAnySuffix(name, listingExtensions):
			listings = append(listings, f)
		case strings.HasSuffix(name, "."+PreferredFormat):
			ebooks = append(ebooks, f)
		case hasAnySuffix(name, fallbackFormats):
			fallbacks = append(fallbacks, f)
		}
	}

	// listings first: most catalog bots deliver results this way
	for _, f := range listings {
		records := parseListingFile(f, log)
		out.Records = append(out.Records, records...)
	}
	if len(out.Records) > 0 {
		log.Info("parsed book listings from archive",
			"path", archivePath, "records", len(out.Records))
		return out
	}

	extractDir := strings.TrimSuffix(archivePath, filepath.Ext(archivePath)) + "_extracted"
	candidates := ebooks
	if len(candidates) == 0 {
		candidates = fallbacks
	}
	for _, f := range candidates {
		if len(out.ExtractedFiles) >= maxExtractedFiles {
			break
		}
		path, err := extractFile(f, extractDir)
		if err != nil {
			log.Warn("failed to extract archive member", "member", f.Name, "err", err)
			continue
		}
		out.ExtractedFiles = append(out.ExtractedFiles, path)
	}
	if len(out.ExtractedFiles) > 0 {
		log.Info("extracted ebook files from archive",
			"path", archivePath, "count", len(out.ExtractedFiles))
	}
	return out
}

func hasAnySuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

func parseListingFile(f *zip.File, log *slog.Logger) []BookRecord {
	rc, err := f.Open()
	if err != nil {
		log.Warn("cannot open archive member", "member", f.Name, "err", err)
		return nil
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		log.Warn("cannot read archive member", "member", f.Name, "err", err)
		return nil
	}

	content, err := decodeText(raw)
	if err != nil {
		log.Warn("could not decode listing", "member", f.Name, "err", err)
		return nil
	}

	return ParseListingLines(strings.Split(content, "\n"), f.Name)
}

// decodeText tries UTF-8 first, then the legacy single-byte encodings the
// older listing bots still emit.
func decodeText(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	for _, cm := range []*charmap.Charmap{charmap.Windows1252, charmap.ISO8859_1} {
		decoded, err := cm.NewDecoder().Bytes(raw)
		if err == nil {
			return string(decoded), nil
		}
	}
	return "", fmt.Errorf("no encoding matched")
}

// ParseListingLines parses text-listing lines into records, tolerating the
// several layouts the catalog bots use. Comment lines and anything that
// matches no layout are skipped.
func ParseListingLines(lines []string, sourceFile string) []BookRecord {
	var records []BookRecord

	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") || strings.HasPrefix(line, ";") {
			continue
		}
		if rec := parseListingLine(line, sourceFile, i+1); rec != nil {
			records = append(records, *rec)
		}
	}
	return records
}

func parseListingLine(line, sourceFile string, lineNumber int) *BookRecord {
	for _, pattern := range listingPatterns {
		m := pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		server := strings.TrimSpace(m[1])
		author := strings.TrimSpace(m[2])
		title := strings.TrimSpace(m[3])
		extension := strings.ToLower(strings.TrimSpace(m[4]))

		if !validListingExtensions[extension] {
			continue
		}
		if len(author) < 2 || len(title) < 2 {
			continue
		}

		return &BookRecord{
			Server:      server,
			Author:      author,
			Title:       title,
			Format:      extension,
			Size:        extractSize(m[5]),
			FullCommand: fmt.Sprintf("!%s %s - %s.%s", server, author, title, extension),
			RawLine:     line,
			SourceFile:  sourceFile,
			LineNumber:  lineNumber,
		}
	}
	return nil
}

func extractSize(info string) string {
	for _, pattern := range sizePatterns {
		if m := pattern.FindStringSubmatch(info); m != nil {
			return m[1]
		}
	}
	if len(info) > 20 {
		info = info[:20]
	}
	return strings.TrimSpace(info)
}

func extractFile(f *zip.File, extractDir string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	// flatten the member path; archives from strangers do not get to pick
	// directories on this machine
	dest := filepath.Join(extractDir, filepath.Base(f.Name))
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", err
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return "", err
	}
	return dest, nil
}
