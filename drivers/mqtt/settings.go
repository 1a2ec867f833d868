package mqtt

import "time"

// Settings are the connection options understood by the MQTT connector.
type Settings struct {
	ClientID       string        `mapstructure:"client_id"`
	CleanSession   *bool         `mapstructure:"clean_session"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	Timeout        time.Duration `mapstructure:"timeout"`
	AutoReconnect  *bool         `mapstructure:"auto_reconnect"`
	MaxReconnect   time.Duration `mapstructure:"max_reconnect_interval"`
	ConnectRetry   time.Duration `mapstructure:"connect_retry_interval"`
	DisconnectWait time.Duration `mapstructure:"disconnect_wait"`
	TLS            *TLSSettings  `mapstructure:"tls"`
}

// TLSSettings allow TLS connections to be configured.
type TLSSettings struct {
	Enabled            bool     `mapstructure:"enabled"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
	CAFile             string   `mapstructure:"ca_file"`
	CertFile           string   `mapstructure:"cert_file"`
	KeyFile            string   `mapstructure:"key_file"`
	ServerName         string   `mapstructure:"server_name"`
	ALPN               []string `mapstructure:"alpn"`
}

const (
	defaultTimeout        = 30 * time.Second
	defaultDisconnectWait = 250 * time.Millisecond
)

func (s Settings) connectTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return defaultTimeout
}

func (s Settings) disconnectWait() time.Duration {
	if s.DisconnectWait > 0 {
		return s.DisconnectWait
	}
	return defaultDisconnectWait
}
