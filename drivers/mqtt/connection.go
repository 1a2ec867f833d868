package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/timzifer/connreg/runtime/connections"
)

// brokerURL maps registry addresses onto the schemes paho understands.
func brokerURL(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("mqtt: broker address is required")
	}
	switch {
	case strings.HasPrefix(address, "mqtt://"):
		return "tcp://" + strings.TrimPrefix(address, "mqtt://"), nil
	case strings.HasPrefix(address, "mqtts://"):
		return "ssl://" + strings.TrimPrefix(address, "mqtts://"), nil
	case strings.Contains(address, "://"):
		return address, nil
	default:
		return "tcp://" + address, nil
	}
}

// clientOptions translates spec and settings into paho client options.
func clientOptions(spec connections.Spec, settings Settings, logger zerolog.Logger, onConnect mqtt.OnConnectHandler) (*mqtt.ClientOptions, error) {
	broker, err := brokerURL(spec.Address)
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	if settings.ClientID != "" {
		opts.SetClientID(settings.ClientID)
	}
	if spec.Username != "" {
		opts.SetUsername(spec.Username)
	}
	if spec.Password != "" {
		opts.SetPassword(spec.Password)
	}
	if settings.CleanSession != nil {
		opts.SetCleanSession(*settings.CleanSession)
	}
	if settings.KeepAlive > 0 {
		opts.SetKeepAlive(settings.KeepAlive)
	}
	opts.SetConnectTimeout(settings.connectTimeout())
	if settings.AutoReconnect != nil {
		opts.SetAutoReconnect(*settings.AutoReconnect)
	}
	if settings.MaxReconnect > 0 {
		opts.SetMaxReconnectInterval(settings.MaxReconnect)
	}
	if settings.ConnectRetry > 0 {
		opts.SetConnectRetryInterval(settings.ConnectRetry)
	}

	if settings.TLS != nil && settings.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(*settings.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	if onConnect != nil {
		opts.SetOnConnectHandler(onConnect)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Str("broker", broker).Msg("mqtt: connection lost")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info().Str("broker", broker).Msg("mqtt: reconnecting")
	})
	return opts, nil
}

func buildTLSConfig(settings TLSSettings) (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: settings.InsecureSkipVerify}
	if settings.ServerName != "" {
		cfg.ServerName = settings.ServerName
	}
	if len(settings.ALPN) > 0 {
		cfg.NextProtos = append([]string(nil), settings.ALPN...)
	}

	if settings.CAFile != "" {
		ca, err := os.ReadFile(settings.CAFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(ca); !ok {
			return nil, fmt.Errorf("mqtt: parse ca file %s", settings.CAFile)
		}
		cfg.RootCAs = pool
	}

	if settings.CertFile != "" || settings.KeyFile != "" {
		if settings.CertFile == "" || settings.KeyFile == "" {
			return nil, fmt.Errorf("mqtt: cert_file and key_file must be set together")
		}
		cert, err := tls.LoadX509KeyPair(settings.CertFile, settings.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("mqtt: load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
