package remote

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"

	_ "github.com/tursodatabase/go-libsql"
)

// OpenLibSQL connects to a libSQL server such as a Turso database. token
// may be empty for servers without auth.
func OpenLibSQL(ctx context.Context, serverURL, token string, logger *log.Logger) (*SQL, error) {
	dsn, err := libsqlDSN(serverURL, token)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, classify(fmt.Errorf("failed to reach %s: %w", redact(serverURL), err))
	}
	s, err := NewSQL(ctx, conn, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func libsqlDSN(serverURL, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid remote url: %w", err)
	}
	switch u.Scheme {
	case "libsql", "https", "http", "wss", "ws":
	default:
		return "", fmt.Errorf("unsupported remote url scheme %q", u.Scheme)
	}
	if token != "" {
		q := u.Query()
		q.Set("authToken", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func redact(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "remote"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
