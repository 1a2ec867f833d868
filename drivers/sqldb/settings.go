package sqldb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/timzifer/connreg/runtime/connections"
)

// Settings are the options understood by the database/sql connector.
type Settings struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	Persistent      *bool         `mapstructure:"persistent"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    *int          `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	SkipPing        bool          `mapstructure:"skip_ping"`
}

func decodeSettings(options connections.Options) (Settings, error) {
	var settings Settings
	if err := connections.DecodeOptions(options, &settings); err != nil {
		return Settings{}, err
	}
	if settings.Timeout < 0 {
		return Settings{}, fmt.Errorf("timeout must not be negative")
	}
	if settings.MaxOpenConns < 0 {
		return Settings{}, fmt.Errorf("max_open_conns must not be negative")
	}
	return settings, nil
}

func (s Settings) apply(db *sql.DB) {
	if s.MaxOpenConns > 0 {
		db.SetMaxOpenConns(s.MaxOpenConns)
	}
	if s.MaxIdleConns != nil {
		db.SetMaxIdleConns(*s.MaxIdleConns)
	}
	if s.Persistent != nil && !*s.Persistent {
		db.SetMaxIdleConns(0)
	}
	if s.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(s.ConnMaxLifetime)
	}
	if s.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(s.ConnMaxIdleTime)
	}
}
