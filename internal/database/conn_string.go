package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/matchbridge/internal/config"
)

// ApplicationName tags journal connections in pg_stat_activity.
const ApplicationName = "matchbridge"

// BuildConnString builds a PostgreSQL connection URL from config.
// The password is escaped, so special characters are safe.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", ApplicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
