package sqldb

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/timzifer/connreg/runtime/connections"
)

func mysqlConfig(spec connections.Spec, settings Settings) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(spec.Address)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	if spec.Username != "" {
		cfg.User = spec.Username
	}
	if spec.Password != "" {
		cfg.Passwd = spec.Password
	}
	if settings.Timeout > 0 {
		cfg.Timeout = settings.Timeout
	}
	return cfg, nil
}

func pgxConfig(spec connections.Spec, settings Settings) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(spec.Address)
	if err != nil {
		return nil, fmt.Errorf("pgx: parse dsn: %w", err)
	}
	if spec.Username != "" {
		cfg.User = spec.Username
	}
	if spec.Password != "" {
		cfg.Password = spec.Password
	}
	if settings.Timeout > 0 {
		cfg.ConnectTimeout = settings.Timeout
	}
	return cfg, nil
}

// pqDSN renders a lib/pq key/value connection string. lib/pq lets later keys
// win, so credentials are appended after the original parameters.
func pqDSN(spec connections.Spec, settings Settings) (string, error) {
	dsn := strings.TrimSpace(spec.Address)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		converted, err := pq.ParseURL(dsn)
		if err != nil {
			return "", fmt.Errorf("pq: parse url: %w", err)
		}
		dsn = converted
	}
	parts := make([]string, 0, 4)
	if dsn != "" {
		parts = append(parts, dsn)
	}
	if spec.Username != "" {
		parts = append(parts, "user="+quotePQValue(spec.Username))
	}
	if spec.Password != "" {
		parts = append(parts, "password="+quotePQValue(spec.Password))
	}
	if settings.Timeout > 0 {
		seconds := int(math.Ceil(settings.Timeout.Seconds()))
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", seconds))
	}
	return strings.Join(parts, " "), nil
}

func quotePQValue(value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
	return "'" + escaped + "'"
}
