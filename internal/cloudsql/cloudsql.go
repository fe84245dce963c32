// Package cloudsql builds Postgres DSNs for Cloud SQL instances mounted as
// unix sockets, and redacts credentials from database URLs for logging.
package cloudsql

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// SocketDir is where Cloud Run mounts Cloud SQL instance sockets.
const SocketDir = "/cloudsql"

// SocketDSN builds a lib/pq key/value DSN from INSTANCE_CONNECTION_NAME,
// DB_USER, DB_PASSWORD and DB_NAME. ok is false when no instance is configured.
// DB_PASSWORD may be empty for IAM authentication.
func SocketDSN() (dsn string, ok bool, err error) {
	instance := os.Getenv("INSTANCE_CONNECTION_NAME")
	if instance == "" {
		return "", false, nil
	}

	user := os.Getenv("DB_USER")
	name := os.Getenv("DB_NAME")
	if user == "" || name == "" {
		return "", false, fmt.Errorf("DB_USER and DB_NAME must be set when using INSTANCE_CONNECTION_NAME")
	}

	parts := []string{
		"host=" + SocketDir + "/" + instance,
		"user=" + quote(user),
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		parts = append(parts, "password="+quote(password))
	}
	parts = append(parts, "dbname="+quote(name), "sslmode=disable")

	return strings.Join(parts, " "), true, nil
}

// Redact hides the password in a postgres URL or key/value DSN.
func Redact(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil || u.User == nil {
			return dsn
		}
		return u.Redacted()
	}

	return passwordField.ReplaceAllString(dsn, "password=xxxxx")
}

var passwordField = regexp.MustCompile(`password=('(?:[^'\\]|\\.)*'|\S+)`)

// quote escapes a lib/pq DSN value when it contains spaces or quotes.
func quote(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
