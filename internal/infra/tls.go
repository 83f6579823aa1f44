package infra

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// LoadTrustStore builds a client TLS config that trusts the CAs in location.
// PKCS#12 stores (.p12, .pfx) are opened with password, anything else is read as a PEM bundle.
// An empty location yields nil: the transport runs without TLS.
func LoadTrustStore(location, password string) (*tls.Config, error) {
	if location == "" {
		return nil, nil
	}

	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("trust store: %w", err)
	}

	switch strings.ToLower(filepath.Ext(location)) {
	case ".p12", ".pfx":
		blocks, err := pkcs12.ToPEM(data, password)
		if err != nil {
			return nil, fmt.Errorf("trust store: decode pkcs12: %w", err)
		}
		var bundle []byte
		for _, b := range blocks {
			if b.Type == "CERTIFICATE" {
				bundle = append(bundle, pem.EncodeToMemory(b)...)
			}
		}
		data = bundle
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("trust store: no certificates found in %s", location)
	}

	return &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// LoadKeyResource returns the PEM data from envDataKey when set, otherwise reads path.
// Neither set yields nil data and no error; an unreadable path is an error.
func LoadKeyResource(path string, envDataKey string) ([]byte, error) {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data), nil
	}
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("key resource: %w", err)
	}
	return data, nil
}
