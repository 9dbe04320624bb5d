package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var (
	IRC_SERVER       string
	IRC_PORT         int
	IRC_CHANNEL      string
	IRC_TLS          bool
	SEARCH_BOT       string
	USER_AGENT       string
	DOWNLOAD_DIR     string
	HTTP_ADDR        string
	CONNECT_TIMEOUT  time.Duration
	RESPONSE_TIMEOUT time.Duration
)

func init() {
	// load environment variables from .env file; every setting has a working
	// default so a missing file is fine
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using defaults")
	}

	IRC_SERVER = getString("IRC_SERVER", "irc.irchighway.net")
	IRC_PORT = getInt("IRC_PORT", 6697)
	IRC_CHANNEL = getString("IRC_CHANNEL", "#ebooks")
	IRC_TLS = getBool("IRC_TLS", true)
	SEARCH_BOT = getString("SEARCH_BOT", "search")
	USER_AGENT = getString("USER_AGENT", "Bookseek v1.0")
	DOWNLOAD_DIR = getString("DOWNLOAD_DIR", "downloads")
	HTTP_ADDR = getString("HTTP_ADDR", "localhost:3000")
	CONNECT_TIMEOUT = time.Duration(getInt("CONNECT_TIMEOUT_SECONDS", 30)) * time.Second
	RESPONSE_TIMEOUT = time.Duration(getInt("RESPONSE_TIMEOUT_SECONDS", 60)) * time.Second
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
