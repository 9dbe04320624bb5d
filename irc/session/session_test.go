package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(cfg Config) *Session {
	return New(cfg, discardLogger())
}

func TestTrailingParam(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{":bot!u@host PRIVMSG nick :!Ook book.epub", "!Ook book.epub"},
		{":server 372 nick :- message of the day", "- message of the day"},
		{"PING :token", "PING :token"},
		{"no prefix at all", "no prefix at all"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, trailingParam(tt.line), "line %q", tt.line)
	}
}

func TestHandleLineClassification(t *testing.T) {
	s := newTestSession(DefaultConfig())

	s.handleLine(":bot!u@host PRIVMSG nick :!Ook F Scott Fitzgerald - The Great Gatsby.epub  ::INFO:: 332.7KB")
	s.handleLine(":peer!u@host PRIVMSG nick :\x01DCC SEND results.zip 2130706433 4000 9000\x01")
	s.handleLine(":someone!u@host PRIVMSG #ebooks :has anyone read gatsby?")
	s.handleLine("")

	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	require.Len(t, s.resultLines, 1)
	assert.Contains(t, s.resultLines[0], "Great Gatsby")
	require.Len(t, s.offers, 1)
	assert.Equal(t, "results.zip", s.offers[0].Filename)
	assert.Equal(t, "127.0.0.1", s.offers[0].PeerAddr)
}

func TestEnforceRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitDelay = 150 * time.Millisecond
	s := newTestSession(cfg)

	s.enforceRateLimit() // first command goes through immediately
	start := time.Now()
	s.enforceRateLimit()
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond,
		"second command must wait out the interval")
}

func TestStatusSnapshotIsolation(t *testing.T) {
	s := newTestSession(DefaultConfig())
	s.recordError("first failure")

	snapshot := s.Status()
	require.Len(t, snapshot.Errors, 1)
	snapshot.Errors[0] = "tampered"
	snapshot.Errors = append(snapshot.Errors, "extra")

	fresh := s.Status()
	require.Len(t, fresh.Errors, 1)
	assert.Equal(t, "first failure", fresh.Errors[0])
}

func TestErrorsAccumulate(t *testing.T) {
	s := newTestSession(DefaultConfig())
	s.recordError("one")
	s.recordError("two")
	assert.Equal(t, []string{"one", "two"}, s.Status().Errors)
}

func TestOperationsRequireReadySession(t *testing.T) {
	s := newTestSession(DefaultConfig())

	_, err := s.SearchBooks(context.Background(), "someone", "", 5)
	assert.ErrorIs(t, err, ErrNotConnected)

	outcome := s.RequestDownload(context.Background(), "!Ook book.epub", "")
	assert.False(t, outcome.Success)
	assert.Equal(t, ErrNotConnected.Error(), outcome.Error)
}

// slowServer accepts one connection, drains it and sends the welcome code
// only after the given delay, keeping the client mid-registration.
func slowServer(t *testing.T, welcomeAfter time.Duration) *net.TCPAddr {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		go io.Copy(io.Discard, conn)
		time.Sleep(welcomeAfter)
		fmt.Fprintf(conn, ":fake.server 004 client fake.server testd dqrv :ok\r\n")
	}()

	return ln.Addr().(*net.TCPAddr)
}

func TestDisconnectAbortsConnect(t *testing.T) {
	addr := slowServer(t, 5*time.Second)
	cfg := Config{
		Server:    addr.IP.String(),
		Port:      addr.Port,
		Channel:   "#ebooks",
		EnableTLS: false,
	}
	s := newTestSession(cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Connect() }()

	time.Sleep(200 * time.Millisecond)
	s.Disconnect()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSessionClosed, "a closed session must not retry")
	case <-time.After(3 * time.Second):
		t.Fatal("Connect did not return after Disconnect")
	}

	assert.False(t, s.Ready(), "session must never become ready after Disconnect")
	assert.False(t, s.Status().Connected)
}

func TestDisconnectIdempotent(t *testing.T) {
	s := newTestSession(DefaultConfig())
	s.Disconnect()
	s.Disconnect()
	assert.False(t, s.Ready())
}

// fakeServer speaks just enough of the chat protocol to walk a session
// through registration, join and one search.
func fakeServer(t *testing.T) (addr *net.TCPAddr) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)

		expect := func(prefix string) bool {
			for {
				line, err := br.ReadString('\n')
				if err != nil {
					return false
				}
				if strings.Contains(line, prefix) {
					return true
				}
			}
		}

		if !expect("USER") {
			return
		}
		fmt.Fprintf(conn, ":fake.server 004 client fake.server testd dqrv :ok\r\n")

		if !expect("JOIN") {
			return
		}
		fmt.Fprintf(conn, ":fake.server 366 client #ebooks :End of /NAMES list.\r\n")

		if !expect("@search") {
			return
		}
		fmt.Fprintf(conn, ":bot!u@host PRIVMSG client :!Ook F Scott Fitzgerald - The Great Gatsby.epub  ::INFO:: 332.7KB\r\n")

		// drain until the client quits
		io.Copy(io.Discard, br)
	}()

	return ln.Addr().(*net.TCPAddr)
}

func TestSessionLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("walks the full connect sequence with its fixed pauses")
	}

	addr := fakeServer(t)
	cfg := Config{
		Server:         addr.IP.String(),
		Port:           addr.Port,
		Channel:        "#ebooks",
		EnableTLS:      false,
		UserAgent:      "test agent",
		SearchBot:      "search",
		RateLimitDelay: 10 * time.Millisecond,
		QuietPeriod:    300 * time.Millisecond,
		CollectWindow:  5 * time.Second,
	}
	s := newTestSession(cfg)

	require.NoError(t, s.Connect())
	defer s.Disconnect()
	assert.True(t, s.Ready())

	status := s.Status()
	assert.True(t, status.Connected)
	assert.True(t, status.JoinedChannel)

	records, err := s.SearchBooks(context.Background(), "F Scott Fitzgerald", "", 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Ook", records[0].Server)
	assert.Equal(t, "The Great Gatsby", records[0].Title)

	status = s.Status()
	assert.Equal(t, 1, status.TotalSearches)
	assert.Equal(t, 1, status.LastSearchResults)
}
