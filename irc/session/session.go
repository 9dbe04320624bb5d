package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"bookseek/irc/dcc"
	"bookseek/irc/nick"
	"bookseek/irc/parser"
)

// ErrNotConnected is returned when an operation is attempted on a session
// that has not reached the Ready state.
var ErrNotConnected = errors.New("not connected to IRC")

// ErrSessionClosed is returned when Disconnect preempts an in-flight
// connection attempt.
var ErrSessionClosed = errors.New("session closed")

// State is the connection lifecycle position. Ready is the only state from
// which search and download operations may be issued.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistering
	StateJoiningChannel
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistering:
		return "registering"
	case StateJoiningChannel:
		return "joining-channel"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

const (
	// the network actively penalizes clients that send commands faster
	defaultRateLimitDelay = 10 * time.Second

	defaultConnectTimeout  = 30 * time.Second
	defaultResponseTimeout = 60 * time.Second
	defaultCollectWindow   = 20 * time.Second
	defaultQuietPeriod     = 5 * time.Second
	defaultTargetResults   = 50

	maxConnectRetries   = 3
	maxNickRetries      = 3
	connectBackoffStep  = 5 * time.Second
	registrationGrace   = 2 * time.Second
	joinConfirmTimeout  = 10 * time.Second
	offerPollInterval   = 250 * time.Millisecond
	collectPollInterval = 500 * time.Millisecond
)

// Config carries the per-session connection settings.
type Config struct {
	Server          string
	Port            int
	Channel         string
	EnableTLS       bool
	UserAgent       string
	SearchBot       string
	DownloadDir     string
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	RateLimitDelay  time.Duration
	CollectWindow   time.Duration
	QuietPeriod     time.Duration
	TargetResults   int
}

// DefaultConfig returns settings for the public ebooks network.
func DefaultConfig() Config {
	return Config{
		Server:      "irc.irchighway.net",
		Port:        6697,
		Channel:     "#ebooks",
		EnableTLS:   true,
		UserAgent:   "Bookseek v1.0",
		SearchBot:   "search",
		DownloadDir: "downloads",
	}
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = defaultResponseTimeout
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = defaultRateLimitDelay
	}
	if c.CollectWindow <= 0 {
		c.CollectWindow = defaultCollectWindow
	}
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = defaultQuietPeriod
	}
	if c.TargetResults <= 0 {
		c.TargetResults = defaultTargetResults
	}
	if c.DownloadDir == "" {
		c.DownloadDir = "downloads"
	}
	return c
}

// Session owns one transport connection to the chat network. It negotiates
// identity, joins the shared channel, answers protocol probes, enforces
// inter-command spacing and exposes the search/download primitives.
type Session struct {
	ID  string
	cfg Config
	log *slog.Logger

	mu       sync.Mutex // guards conn and state
	conn     net.Conn
	state    State
	nickname string

	writeMu sync.Mutex // socket is single-writer per message

	opMu sync.Mutex // at most one outstanding search or download

	rateMu      sync.Mutex
	lastCommand time.Time

	bufMu       sync.Mutex // per-operation buffers, cleared at operation start
	resultLines []string
	offers      []*dcc.Offer

	statusMu sync.RWMutex
	status   Status

	closeOnce sync.Once
	done      chan struct{}
}

// New builds a disconnected session with a freshly generated handle.
func New(cfg Config, log *slog.Logger) *Session {
	cfg = cfg.withDefaults()
	nickname := nick.Generate()
	return &Session{
		cfg:      cfg,
		log:      log,
		nickname: nickname,
		done:     make(chan struct{}),
		status: Status{
			Nickname:   nickname,
			Server:     cfg.Server,
			Channel:    cfg.Channel,
			TLSEnabled: cfg.EnableTLS,
		},
	}
}

// Nickname returns the current display handle.
func (s *Session) Nickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickname
}

// Ready reports whether operations may be issued.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Connect establishes the connection, registering and joining the channel,
// retrying a bounded number of times with linear backoff. Exhausted retries
// are recorded in the session status and returned as an error, never raised
// beyond that. Disconnect at any point aborts the sequence, including the
// backoff sleeps; a closed session never retries.
func (s *Session) Connect() error {
	var lastErr error
	for attempt := 1; attempt <= maxConnectRetries; attempt++ {
		select {
		case <-s.done:
			return ErrSessionClosed
		default:
		}

		err := s.connectOnce()
		if err == nil {
			s.log.Info("session connected",
				"id", s.ID, "server", s.cfg.Server, "nick", s.Nickname())
			return nil
		}
		lastErr = err
		s.log.Warn("connection attempt failed", "attempt", attempt, "err", err)
		s.closeConn()

		if attempt < maxConnectRetries {
			backoff := time.Duration(attempt) * connectBackoffStep
			s.log.Info("retrying connection", "backoff", backoff)
			select {
			case <-s.done:
				return ErrSessionClosed
			case <-time.After(backoff):
			}
		}
	}

	s.setState(StateDisconnected)
	err := fmt.Errorf("failed to connect after %d attempts: %w", maxConnectRetries, lastErr)
	s.recordError(err.Error())
	return err
}

func (s *Session) connectOnce() error {
	s.setState(StateConnecting)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server, s.cfg.Port)
	raw, err := net.DialTimeout("tcp", addr, s.cfg.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	conn := raw
	if s.cfg.EnableTLS {
		// the network runs on ad-hoc self-signed certificates
		conn = tls.Client(raw, &tls.Config{InsecureSkipVerify: true})
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	reader := bufio.NewReader(conn)

	if err := s.register(conn, reader); err != nil {
		return err
	}

	s.setState(StateJoiningChannel)
	s.joinChannel(conn, reader)

	// Disconnect may have raced the handshake; never promote a closed
	// session to Ready
	select {
	case <-s.done:
		s.closeConn()
		return ErrSessionClosed
	default:
	}

	// the reader loop blocks on reads indefinitely; it exits when the
	// connection closes
	_ = conn.SetReadDeadline(time.Time{})
	s.setState(StateReady)
	s.updateStatus(func(st *Status) {
		st.Connected = true
		st.JoinedChannel = true
		st.Nickname = s.Nickname()
	})

	go s.readLoop(reader)
	return nil
}

// register sends the identity commands and waits for the welcome code,
// regenerating the handle on nickname collisions.
func (s *Session) register(conn net.Conn, reader *bufio.Reader) error {
	s.setState(StateRegistering)

	nickname := s.Nickname()
	if err := s.writeRaw("NICK " + nickname); err != nil {
		return err
	}
	if err := s.writeRaw(fmt.Sprintf("USER %s 0 * :%s", nickname, nickname)); err != nil {
		return err
	}

	deadline := time.Now().Add(s.cfg.ConnectTimeout)
	nickRetries := 0

	for {
		_ = conn.SetReadDeadline(deadline)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("registration read: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		s.log.Debug("irc", "line", line)

		switch {
		case strings.Contains(line, " 004 ") || strings.Contains(line, "Welcome"):
			return nil

		case strings.Contains(line, " 433 ") || strings.Contains(line, "Nickname is already in use"):
			if nickRetries >= maxNickRetries {
				return errors.New("nickname collision retries exhausted")
			}
			nickRetries++
			old := nickname
			nickname = nick.Generate()
			s.mu.Lock()
			s.nickname = nickname
			s.mu.Unlock()
			s.log.Info("nickname in use, regenerating", "old", old, "new", nickname)
			if err := s.writeRaw("NICK " + nickname); err != nil {
				return err
			}

		case strings.Contains(line, "ERROR") || strings.Contains(line, "Closing Link"):
			return fmt.Errorf("server closed registration: %s", line)

		case strings.HasPrefix(line, "PING"):
			_ = s.writeRaw(strings.Replace(line, "PING", "PONG", 1))
		}
	}
}

// joinChannel waits for a join confirmation or the end-of-names marker.
// Some networks omit the confirmation, so failure to see one is a warning
// and the session proceeds as if joined.
func (s *Session) joinChannel(conn net.Conn, reader *bufio.Reader) {
	time.Sleep(registrationGrace)

	if err := s.writeRaw("JOIN " + s.cfg.Channel); err != nil {
		s.log.Warn("join command failed", "channel", s.cfg.Channel, "err", err)
		return
	}

	deadline := time.Now().Add(joinConfirmTimeout)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimRight(line, "\r\n")
		s.log.Debug("irc", "line", line)

		if strings.Contains(line, "JOIN "+s.cfg.Channel) || strings.Contains(line, " 366 ") {
			s.log.Info("joined channel", "channel", s.cfg.Channel)
			return
		}
		if strings.HasPrefix(line, "PING") {
			_ = s.writeRaw(strings.Replace(line, "PING", "PONG", 1))
		}
	}
	s.log.Warn("join confirmation not received, proceeding", "channel", s.cfg.Channel)
}

// readLoop is the session's single background reader. It answers keepalives
// and introspection probes and buckets every other line for the operation in
// flight. It terminates when the socket closes.
func (s *Session) readLoop(reader *bufio.Reader) {
	defer func() {
		s.updateStatus(func(st *Status) {
			st.Connected = false
			st.JoinedChannel = false
		})
		s.setState(StateDisconnected)
	}()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warn("reader stopped", "err", err)
			}
			return
		}
		s.handleLine(strings.TrimRight(line, "\r\n"))
	}
}

func (s *Session) handleLine(line string) {
	if line == "" {
		return
	}

	if strings.HasPrefix(line, "PING") {
		_ = s.writeRaw(strings.Replace(line, "PING", "PONG", 1))
		return
	}

	// introspection probes must be answered to stay allow-listed
	if strings.Contains(line, "\x01VERSION\x01") {
		s.handleVersionProbe(line)
	}

	if dcc.IsOfferLine(line) {
		if offer := dcc.ParseOffer(line); offer != nil {
			s.log.Info("transfer offer received",
				"filename", offer.Filename, "size", offer.Size)
			s.bufMu.Lock()
			s.offers = append(s.offers, offer)
			s.bufMu.Unlock()
		}
		return
	}

	payload := trailingParam(line)
	if parser.IsPotentialResult(payload) {
		s.bufMu.Lock()
		s.resultLines = append(s.resultLines, payload)
		s.bufMu.Unlock()
	}
}

func (s *Session) handleVersionProbe(line string) {
	if !strings.HasPrefix(line, ":") {
		return
	}
	sender := line[1:]
	if i := strings.IndexByte(sender, ' '); i >= 0 {
		sender = sender[:i]
	}
	if i := strings.IndexByte(sender, '!'); i >= 0 {
		sender = sender[:i]
	}
	if sender == "" {
		return
	}
	_ = s.writeRaw(fmt.Sprintf("NOTICE %s :\x01VERSION %s\x01", sender, s.cfg.UserAgent))
	s.log.Info("answered version probe", "sender", sender)
}

// trailingParam strips the IRC prefix and command from a line, leaving the
// trailing parameter — the part the result heuristic should see.
func trailingParam(line string) string {
	if !strings.HasPrefix(line, ":") {
		return line
	}
	if i := strings.Index(line, " :"); i >= 0 {
		return line[i+2:]
	}
	return line
}

func (s *Session) writeRaw(msg string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := conn.Write([]byte(msg + "\r\n"))
	return err
}

// enforceRateLimit sleeps out the remainder of the minimum inter-command
// interval. Holding the lock through the sleep spaces out concurrent
// callers as well.
func (s *Session) enforceRateLimit() {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()

	if !s.lastCommand.IsZero() {
		if elapsed := time.Since(s.lastCommand); elapsed < s.cfg.RateLimitDelay {
			wait := s.cfg.RateLimitDelay - elapsed
			s.log.Info("rate limiting", "wait", wait.Round(100*time.Millisecond))
			time.Sleep(wait)
		}
	}
	s.lastCommand = time.Now()
}

func (s *Session) clearBuffers() {
	s.bufMu.Lock()
	s.resultLines = s.resultLines[:0]
	s.offers = s.offers[:0]
	s.bufMu.Unlock()
}

// SearchBooks sends a search command for the author (and title, if given) to
// the shared channel, collects replies for the bounded window and parses them
// into records.
func (s *Session) SearchBooks(ctx context.Context, author, title string, maxResults int) ([]parser.BookRecord, error) {
	if !s.Ready() {
		return nil, ErrNotConnected
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if maxResults <= 0 {
		maxResults = s.cfg.TargetResults
	}

	s.enforceRateLimit()
	s.clearBuffers()

	query := fmt.Sprintf("@%s %s", s.cfg.SearchBot, author)
	if title != "" {
		query = fmt.Sprintf("@%s %s %s", s.cfg.SearchBot, author, title)
	}
	s.log.Info("searching", "bot", s.cfg.SearchBot, "query", query)

	if err := s.writeRaw(fmt.Sprintf("PRIVMSG %s :%s", s.cfg.Channel, query)); err != nil {
		return nil, fmt.Errorf("failed to send search command: %w", err)
	}

	lines := s.collectResults(ctx, maxResults)
	records, parseErrs := parser.ParseLines(lines)
	for i, perr := range parseErrs {
		if i >= 3 {
			break
		}
		s.log.Debug("parse error", "err", perr.Err, "line", perr.Line)
	}

	records = parser.FilterResults(records, parser.FilterOptions{
		AuthorFilter:     author,
		PreferNonArchive: true,
	})
	if len(records) > maxResults {
		records = records[:maxResults]
	}

	s.updateStatus(func(st *Status) {
		st.TotalSearches++
		st.LastSearchQuery = query
		st.LastSearchResults = len(records)
	})
	s.log.Info("search completed", "query", query, "results", len(records))
	return records, nil
}

// collectResults waits until the target count is reached, a quiet period
// passes after the first result, the window closes or the context ends —
// whichever comes first.
func (s *Session) collectResults(ctx context.Context, target int) []string {
	deadline := time.Now().Add(s.cfg.CollectWindow)
	lastCount := 0
	lastNew := time.Now()

	ticker := time.NewTicker(collectPollInterval)
	defer ticker.Stop()

collect:
	for {
		select {
		case <-ctx.Done():
			break collect
		case <-s.done:
			break collect
		case <-ticker.C:
		}

		s.bufMu.Lock()
		count := len(s.resultLines)
		s.bufMu.Unlock()

		if count > lastCount {
			lastCount = count
			lastNew = time.Now()
		}
		if count >= target {
			s.log.Info("target result count reached", "count", count)
			break
		}
		if count > 0 && time.Since(lastNew) >= s.cfg.QuietPeriod {
			s.log.Info("result stream went quiet", "count", count)
			break
		}
		if time.Now().After(deadline) {
			break
		}
	}

	s.bufMu.Lock()
	lines := append([]string(nil), s.resultLines...)
	s.bufMu.Unlock()
	return lines
}

// DownloadOutcome is the result of one download sequence: the transfer-offer
// wait plus the byte transfer, and any archive content found afterwards.
type DownloadOutcome struct {
	Success        bool                `json:"success"`
	FilePath       string              `json:"filePath,omitempty"`
	FileSize       int64               `json:"fileSize"`
	ExtractedFiles []string            `json:"extractedFiles,omitempty"`
	ParsedBooks    []parser.BookRecord `json:"parsedBooks,omitempty"`
	Offer          *dcc.Offer          `json:"offerInfo,omitempty"`
	Received       int64               `json:"received"`
	Expected       int64               `json:"expected"`
	Error          string              `json:"error,omitempty"`
}

// RequestDownload resends a candidate's reply command verbatim, waits for the
// peer's transfer offer and runs the transfer. Blocking; the background
// reader keeps running independently.
func (s *Session) RequestDownload(ctx context.Context, replyCommand, filenameOverride string) *DownloadOutcome {
	outcome := &DownloadOutcome{}
	if !s.Ready() {
		outcome.Error = ErrNotConnected.Error()
		return outcome
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.enforceRateLimit()
	s.clearBuffers()

	s.log.Info("requesting download", "command", replyCommand)
	if err := s.writeRaw(fmt.Sprintf("PRIVMSG %s :%s", s.cfg.Channel, replyCommand)); err != nil {
		outcome.Error = fmt.Sprintf("failed to send download command: %v", err)
		return outcome
	}

	offer := s.waitForOffer(ctx)
	if offer == nil {
		outcome.Error = "no transfer offer received"
		return outcome
	}
	outcome.Offer = offer

	if err := os.MkdirAll(s.cfg.DownloadDir, 0o755); err != nil {
		outcome.Error = fmt.Sprintf("cannot create download dir: %v", err)
		return outcome
	}

	filename := offer.Filename
	if filenameOverride != "" {
		filename = filenameOverride
	}
	path := filepath.Join(s.cfg.DownloadDir, filepath.Base(filename))

	res := dcc.Download(ctx, offer, path, func(received, total int64, percent float64) {
		s.log.Debug("transfer progress",
			"received", received, "total", total, "percent", fmt.Sprintf("%.1f", percent))
	})
	outcome.Received = res.Received
	outcome.Expected = res.Expected
	if !res.Success {
		outcome.Error = res.Error
		return outcome
	}

	outcome.Success = true
	outcome.FilePath = res.FilePath
	outcome.FileSize = res.Received
	s.log.Info("download completed", "path", res.FilePath, "bytes", res.Received)

	if strings.HasSuffix(strings.ToLower(path), ".zip") {
		archive := parser.ParseArchive(path, s.log)
		outcome.ParsedBooks = archive.Records
		outcome.ExtractedFiles = archive.ExtractedFiles
	}

	s.updateStatus(func(st *Status) {
		st.TotalDownloads++
	})
	return outcome
}

// waitForOffer polls the offer buffer until an offer arrives or the wait is
// bounded out by the response timeout or the context deadline.
func (s *Session) waitForOffer(ctx context.Context) *dcc.Offer {
	deadline := time.Now().Add(s.cfg.ResponseTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-time.After(offerPollInterval):
		}

		s.bufMu.Lock()
		var offer *dcc.Offer
		if n := len(s.offers); n > 0 {
			offer = s.offers[n-1]
		}
		s.bufMu.Unlock()
		if offer != nil {
			return offer
		}
	}
	return nil
}

func (s *Session) closeConn() {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}

// Disconnect sends a best-effort quit, closes the connection and marks the
// status disconnected. Safe to call at any time, any number of times; it
// causes the background reader to exit promptly.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.writeRaw("QUIT :Goodbye")
		s.closeConn()
		s.setState(StateDisconnected)
		s.updateStatus(func(st *Status) {
			st.Connected = false
			st.JoinedChannel = false
		})
		s.log.Info("session disconnected", "id", s.ID, "server", s.cfg.Server)
	})
}
