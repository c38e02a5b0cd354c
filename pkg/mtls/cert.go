package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ClientFiles names the PEM files used to reach the bot server
type ClientFiles struct {
	CACert     string
	ClientCert string
	ClientKey  string
	ServerName string
}

// Empty reports whether no TLS material is configured
func (f ClientFiles) Empty() bool {
	return f.CACert == "" && f.ClientCert == "" && f.ClientKey == "" && f.ServerName == ""
}

// LoadClientTLSConfig creates a TLS configuration for the bot server client.
// It returns nil when nothing is configured so the default transport applies.
// A client certificate is only presented when both cert and key are set.
func LoadClientTLSConfig(files ClientFiles) (*tls.Config, error) {
	if files.Empty() {
		return nil, nil
	}

	cfg := &tls.Config{
		ServerName: files.ServerName,
		MinVersion: tls.VersionTLS12,
	}

	if files.CACert != "" {
		caCert, err := os.ReadFile(files.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certificate")
		}
		cfg.RootCAs = caCertPool
	}

	if (files.ClientCert == "") != (files.ClientKey == "") {
		return nil, fmt.Errorf("client_cert and client_key must be set together")
	}

	if files.ClientCert != "" {
		clientCert, err := tls.LoadX509KeyPair(files.ClientCert, files.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{clientCert}
	}

	return cfg, nil
}
