// Package config reads server and client settings from the environment,
// after loading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var ErrInvalid = errors.New("invalid config")

type Server struct {
	Addr       string
	LogLevel   string
	Dev        bool
	AutoDraw   bool
	OutboxSize int
	// Optional backends; empty disables them.
	DatabaseDSN string
	NATSURL     string
	ConsulAddr  string
	// OriginPatterns loosens websocket origin checks, comma separated.
	OriginPatterns []string
}

type Client struct {
	ServerURL string
	StoreDir  string
	LogLevel  string
	Dev       bool
}

// LoadEnv loads .env when present. A missing file is not an error.
func LoadEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func LoadServer() (Server, error) {
	var errs []error
	c := Server{
		Addr:           str("TOMBALA_ADDR", ":8080"),
		LogLevel:       str("TOMBALA_LOG_LEVEL", "info"),
		Dev:            boolean("TOMBALA_DEV", false, &errs),
		AutoDraw:       boolean("TOMBALA_AUTO_DRAW", true, &errs),
		OutboxSize:     integer("TOMBALA_OUTBOX", 32, &errs),
		DatabaseDSN:    str("TOMBALA_DATABASE_DSN", ""),
		NATSURL:        str("TOMBALA_NATS_URL", ""),
		ConsulAddr:     str("TOMBALA_CONSUL_ADDR", ""),
		OriginPatterns: list("TOMBALA_ORIGIN_PATTERNS"),
	}
	if c.OutboxSize < 1 {
		errs = append(errs, fmt.Errorf("%w: TOMBALA_OUTBOX must be positive", ErrInvalid))
	}
	return c, errors.Join(errs...)
}

func LoadClient() (Client, error) {
	var errs []error
	c := Client{
		ServerURL: str("TOMBALA_SERVER_URL", "ws://localhost:8080"),
		StoreDir:  str("TOMBALA_STORE_DIR", ".tombala"),
		LogLevel:  str("TOMBALA_LOG_LEVEL", "warn"),
		Dev:       boolean("TOMBALA_DEV", false, &errs),
	}
	return c, errors.Join(errs...)
}

// Port is the numeric part of Addr, for service registration.
func (s Server) Port() (int, error) {
	i := strings.LastIndex(s.Addr, ":")
	p, err := strconv.Atoi(s.Addr[i+1:])
	if err != nil {
		return 0, fmt.Errorf("%w: TOMBALA_ADDR %q has no port", ErrInvalid, s.Addr)
	}
	return p, nil
}

func str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func boolean(key string, def bool, errs *[]error) bool {
	v := str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%w: %s=%q is not a bool", ErrInvalid, key, v))
		return def
	}
	return b
}

func integer(key string, def int, errs *[]error) int {
	v := str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v))
		return def
	}
	return n
}

func list(key string) []string {
	v := str(key, "")
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
