package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
)

// IsMySQL reports whether the configured driver speaks MySQL.
func (d *DatabaseConfig) IsMySQL() bool {
	return strings.EqualFold(d.Driver, "mysql")
}

// DataSourceName returns the DSN handed to the driver. An explicit DSN is used
// as is, except that MySQL DSNs always get parseTime so DATE and DATETIME scan
// into time.Time. Otherwise the DSN is built from the discrete fields.
func (d *DatabaseConfig) DataSourceName() (string, error) {
	if d.IsMySQL() {
		return d.mysqlDSN()
	}
	if d.DSN != "" {
		return d.DSN, nil
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Database,
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{d.SSLMode}}.Encode()
	}
	return u.String(), nil
}

func (d *DatabaseConfig) mysqlDSN() (string, error) {
	var cfg *mysql.Config
	if d.DSN != "" {
		parsed, err := mysql.ParseDSN(d.DSN)
		if err != nil {
			return "", fmt.Errorf("invalid MySQL DSN: %w", err)
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		cfg.DBName = d.Database
		cfg.TLSConfig = mysqlTLSParam(d.SSLMode)
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return cfg.FormatDSN(), nil
}

// mysqlTLSParam maps libpq sslmode names onto the MySQL driver's tls values.
func mysqlTLSParam(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "disable", "false":
		return "false"
	case "allow", "prefer", "preferred":
		return "preferred"
	case "require", "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full", "true":
		return "true"
	default:
		return mode
	}
}

// checkDSN parses the effective DSN with the driver's own parser.
func (d *DatabaseConfig) checkDSN() error {
	dsn, err := d.DataSourceName()
	if err != nil {
		return err
	}
	if d.IsMySQL() {
		return nil
	}
	if _, err := pgx.ParseConfig(dsn); err != nil {
		return fmt.Errorf("invalid Postgres DSN: %w", err)
	}
	return nil
}
