package config

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DSN returns a postgres:// connection URL for the pgx driver.
// An explicit connection string wins over the discrete fields.
func (d *DatabaseConfig) DSN() string {
	if strings.TrimSpace(d.ConnectionString) != "" {
		return d.ConnectionString
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Database,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else if d.User != "" {
		u.User = url.User(d.User)
	}

	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	if d.Schema != "" {
		q.Set("search_path", d.Schema)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// RedactedDSN is DSN with the password masked, for logs.
func (d *DatabaseConfig) RedactedDSN() string {
	u, err := url.Parse(d.DSN())
	if err != nil {
		return "<unparseable dsn>"
	}
	return u.Redacted()
}

// EffectiveSchema returns the configured schema or "public".
func (d *DatabaseConfig) EffectiveSchema() string {
	if s := strings.TrimSpace(d.Schema); s != "" {
		return s
	}
	return "public"
}
