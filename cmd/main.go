package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"bookseek/config"
	"bookseek/db"
	"bookseek/irc/api"
	"bookseek/irc/search"
	"bookseek/irc/session"
	"bookseek/logging"
)

var log = logging.GetLogger()

type CLI struct {
	output io.Writer
}

func (c *CLI) Run(args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(c.output, "Usage:")
		fmt.Fprintln(c.output, "  serve                           - Start the HTTP server")
		fmt.Fprintln(c.output, "  search <author> [title]         - Search the ebook channel")
		fmt.Fprintln(c.output, "  download <author> <title>       - Find and download a title")
		return fmt.Errorf("no command provided")
	}

	command := args[0]
	switch command {
	case "serve":
		return c.startServer()

	case "search":
		if len(args) < 2 {
			return fmt.Errorf("search requires an author")
		}
		title := ""
		if len(args) > 2 {
			title = args[2]
		}
		return c.runSearch(args[1], title)

	case "download":
		if len(args) < 3 {
			return fmt.Errorf("download requires author and title")
		}
		return c.runDownload(args[1], args[2])

	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func (c *CLI) startServer() error {
	registry := session.NewRegistry(log)
	defer registry.CloseAll()

	history, err := openHistory()
	if err != nil {
		log.Warn("download history disabled", "err", err)
	}

	handler := api.NewAPIHandler(registry, history, log)

	fmt.Fprintf(c.output, "Starting HTTP server on %s\n", config.HTTP_ADDR)
	return http.ListenAndServe(config.HTTP_ADDR, handler.Router())
}

func (c *CLI) runSearch(author, title string) error {
	s, err := connectSession()
	if err != nil {
		return err
	}
	defer s.Disconnect()

	orch := search.NewOrchestrator(s, log)
	ctx := context.Background()

	if title == "" {
		records, err := orch.AuthorLevel(ctx, author, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.output, "Found %d unique titles for %s:\n", len(records), author)
		for _, rec := range records {
			fmt.Fprintf(c.output, "  %-40s %-6s %-10s @%s\n", rec.Title, rec.Format, rec.Size, rec.Server)
		}
		return nil
	}

	candidates, err := orch.TitleLevel(ctx, author, title, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Found %d servers offering %q:\n", len(candidates), title)
	for _, rec := range candidates {
		fmt.Fprintf(c.output, "  @%-15s %-6s %-10s %s\n", rec.Server, rec.Format, rec.Size, rec.Title)
	}
	return nil
}

func (c *CLI) runDownload(author, title string) error {
	s, err := connectSession()
	if err != nil {
		return err
	}
	defer s.Disconnect()

	orch := search.NewOrchestrator(s, log)
	if history, err := openHistory(); err == nil && history != nil {
		orch = orch.WithHistory(history)
	}

	result, err := orch.SmartSearchAndDownload(context.Background(), author, title, 0)
	if err != nil {
		return err
	}
	if result.Fallback == nil || !result.Fallback.Success {
		msg := "no servers delivered the file"
		if result.Fallback != nil && result.Fallback.Error != "" {
			msg = result.Fallback.Error
		}
		return fmt.Errorf("download failed: %s", msg)
	}

	fmt.Fprintf(c.output, "Downloaded %s (server %s, attempt %d)\n",
		result.Fallback.Outcome.FilePath,
		result.Fallback.Record.Server,
		result.Fallback.AttemptNumber)
	return nil
}

// connectSession dials the configured network and blocks until the session
// is ready or the connect attempts are exhausted.
func connectSession() (*session.Session, error) {
	s := session.New(session.Config{
		Server:          config.IRC_SERVER,
		Port:            config.IRC_PORT,
		Channel:         config.IRC_CHANNEL,
		EnableTLS:       config.IRC_TLS,
		UserAgent:       config.USER_AGENT,
		SearchBot:       config.SEARCH_BOT,
		DownloadDir:     config.DOWNLOAD_DIR,
		ConnectTimeout:  config.CONNECT_TIMEOUT,
		ResponseTimeout: config.RESPONSE_TIMEOUT,
	}, log)

	fmt.Printf("Connecting to %s as %s...\n", config.IRC_SERVER, s.Nickname())
	if err := s.Connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func openHistory() (*db.DownloadRepository, error) {
	database, err := db.NewSqliteDB(db.DefaultDBPath())
	if err != nil {
		return nil, err
	}
	return db.NewDownloadRepository(database), nil
}

func main() {
	cli := &CLI{
		output: os.Stdout,
	}

	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
