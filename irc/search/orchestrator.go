// Package search layers the two-tier lookup strategies and cross-peer
// download fallback on top of a live session.
package search

import (
	"context"
	"log/slog"
	"time"

	"bookseek/db"
	"bookseek/irc/parser"
	"bookseek/irc/rank"
	"bookseek/irc/session"
)

const (
	defaultMaxResults    = 20
	defaultMaxServers    = 10
	defaultAttemptWindow = 2 * time.Minute
)

// SessionAPI is the slice of a session the orchestrator needs. Tests
// substitute a fake; production passes *session.Session.
type SessionAPI interface {
	Ready() bool
	SearchBooks(ctx context.Context, author, title string, maxResults int) ([]parser.BookRecord, error)
	RequestDownload(ctx context.Context, replyCommand, filenameOverride string) *session.DownloadOutcome
}

// Orchestrator runs multi-step search and download flows over one session.
// The history repository is optional; when nil, nothing is recorded.
type Orchestrator struct {
	sess          SessionAPI
	log           *slog.Logger
	history       *db.DownloadRepository
	attemptWindow time.Duration
}

func NewOrchestrator(sess SessionAPI, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		sess:          sess,
		log:           log,
		attemptWindow: defaultAttemptWindow,
	}
}

// WithHistory enables download-history recording.
func (o *Orchestrator) WithHistory(history *db.DownloadRepository) *Orchestrator {
	o.history = history
	return o
}

// AuthorLevel returns the author's unique titles, each represented by its
// best-scoring edition, ordered alphabetically by title.
func (o *Orchestrator) AuthorLevel(ctx context.Context, author string, maxResults int) ([]parser.BookRecord, error) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	// over-fetch so grouping still yields enough unique titles
	records, err := o.sess.SearchBooks(ctx, author, "", maxResults*2)
	if err != nil {
		return nil, err
	}

	unique := rank.BestPerTitle(records, rank.ModeAuthor)
	if len(unique) > maxResults {
		unique = unique[:maxResults]
	}
	o.log.Info("author-level search done",
		"author", author, "raw", len(records), "titles", len(unique))
	return unique, nil
}

// TitleLevel returns one candidate per server for a specific title, ordered
// best first. The ordering is what the download fallback walks.
func (o *Orchestrator) TitleLevel(ctx context.Context, author, title string, maxServers int) ([]parser.BookRecord, error) {
	if maxServers <= 0 {
		maxServers = defaultMaxServers
	}

	records, err := o.sess.SearchBooks(ctx, author, title, maxServers*3)
	if err != nil {
		return nil, err
	}

	var matched []parser.BookRecord
	for _, rec := range records {
		if rank.TitlesMatch(title, rec.Title) {
			matched = append(matched, rec)
		}
	}

	// best edition per server, then servers ordered by that edition's score
	byServer := make(map[string][]parser.BookRecord)
	for _, rec := range matched {
		byServer[rec.Server] = append(byServer[rec.Server], rec)
	}
	candidates := make([]parser.BookRecord, 0, len(byServer))
	for _, group := range byServer {
		if best := rank.SelectBest(group, rank.ModeTitle); best != nil {
			candidates = append(candidates, *best)
		}
	}
	candidates = rank.Order(candidates, rank.ModeTitle)
	if len(candidates) > maxServers {
		candidates = candidates[:maxServers]
	}

	o.log.Info("title-level search done",
		"author", author, "title", title,
		"raw", len(records), "matched", len(matched), "servers", len(candidates))
	return candidates, nil
}

// FallbackOptions tune one fallback walk. The zero value means the default
// per-attempt window and the peer-announced filename.
type FallbackOptions struct {
	AttemptWindow    time.Duration
	FilenameOverride string
}

// FallbackResult reports a cross-server download walk. AttemptNumber is
// 1-based and names the candidate that succeeded; ServersTried lists every
// server contacted, in order.
type FallbackResult struct {
	Success       bool                     `json:"success"`
	AttemptNumber int                      `json:"attemptNumber,omitempty"`
	ServersTried  []string                 `json:"serversTried"`
	Record        *parser.BookRecord       `json:"record,omitempty"`
	Outcome       *session.DownloadOutcome `json:"outcome,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

// DownloadWithFallback walks the candidate list in order, requesting each
// one with a bounded per-attempt window, and stops at the first complete
// transfer. Later candidates are never contacted after a success.
func (o *Orchestrator) DownloadWithFallback(ctx context.Context, candidates []parser.BookRecord, opts FallbackOptions) *FallbackResult {
	window := opts.AttemptWindow
	if window <= 0 {
		window = o.attemptWindow
	}

	result := &FallbackResult{ServersTried: []string{}}
	if len(candidates) == 0 {
		result.Error = "no download candidates"
		return result
	}

	for i, rec := range candidates {
		if ctx.Err() != nil {
			result.Error = ctx.Err().Error()
			return result
		}

		attempt := i + 1
		result.ServersTried = append(result.ServersTried, rec.Server)
		o.log.Info("download attempt",
			"attempt", attempt, "server", rec.Server, "command", rec.FullCommand)

		historyID := o.recordAttempt(rec)

		attemptCtx, cancel := context.WithTimeout(ctx, window)
		outcome := o.sess.RequestDownload(attemptCtx, rec.FullCommand, opts.FilenameOverride)
		cancel()

		if outcome.Success {
			o.recordSuccess(historyID, outcome)
			recCopy := rec
			result.Success = true
			result.AttemptNumber = attempt
			result.Record = &recCopy
			result.Outcome = outcome
			o.log.Info("download succeeded", "attempt", attempt, "server", rec.Server)
			return result
		}

		o.recordFailure(historyID, outcome.Error)
		result.Error = outcome.Error
		o.log.Warn("download attempt failed",
			"attempt", attempt, "server", rec.Server, "err", outcome.Error)
	}

	if result.Error == "" {
		result.Error = "all download candidates failed"
	}
	return result
}

// SmartResult is the combined outcome of a single-call search flow. For an
// author-only query it carries the title list; for an author+title query it
// carries the ordered candidates and the fallback walk.
type SmartResult struct {
	Mode       string              `json:"mode"`
	Candidates []parser.BookRecord `json:"candidates"`
	Fallback   *FallbackResult     `json:"fallback,omitempty"`
}

// SmartSearchAndDownload dispatches on the query shape: author only lists
// the author's works; author plus title finds candidates across servers and
// downloads the best available one.
func (o *Orchestrator) SmartSearchAndDownload(ctx context.Context, author, title string, maxResults int) (*SmartResult, error) {
	if title == "" {
		candidates, err := o.AuthorLevel(ctx, author, maxResults)
		if err != nil {
			return nil, err
		}
		return &SmartResult{Mode: "author-list", Candidates: candidates}, nil
	}

	candidates, err := o.TitleLevel(ctx, author, title, maxResults)
	if err != nil {
		return nil, err
	}
	return &SmartResult{
		Mode:       "download",
		Candidates: candidates,
		Fallback:   o.DownloadWithFallback(ctx, candidates, FallbackOptions{}),
	}, nil
}

func (o *Orchestrator) recordAttempt(rec parser.BookRecord) int64 {
	if o.history == nil {
		return 0
	}
	id, err := o.history.InsertDownload(rec.Server, rec.Author, rec.Title, time.Now())
	if err != nil {
		o.log.Warn("failed to record download attempt", "err", err)
		return 0
	}
	return id
}

func (o *Orchestrator) recordSuccess(id int64, outcome *session.DownloadOutcome) {
	if o.history == nil || id == 0 {
		return
	}
	filename := ""
	if outcome.Offer != nil {
		filename = outcome.Offer.Filename
	}
	if err := o.history.MarkCompleted(id, filename, outcome.FilePath, outcome.FileSize, time.Now()); err != nil {
		o.log.Warn("failed to record download completion", "err", err)
	}
}

func (o *Orchestrator) recordFailure(id int64, errorMsg string) {
	if o.history == nil || id == 0 {
		return
	}
	if err := o.history.MarkFailed(id, errorMsg, time.Now()); err != nil {
		o.log.Warn("failed to record download failure", "err", err)
	}
}
