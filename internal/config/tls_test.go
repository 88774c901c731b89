// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-qrlive.
//
// go-qrlive is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/jeremyhahn/go-qrlive/internal/testutil"
)

// writeServerCert writes a CA-signed server certificate into dir and
// returns the cert, key, and CA file paths.
func writeServerCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()

	ca, err := testutil.GenerateTestCA()
	if err != nil {
		t.Fatalf("Failed to generate CA: %v", err)
	}
	serverCert, err := testutil.GenerateTestServerCert(ca, "localhost")
	if err != nil {
		t.Fatalf("Failed to generate server cert: %v", err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	caFile = filepath.Join(dir, "ca.pem")

	if err := os.WriteFile(certFile, serverCert.CertPEM, 0644); err != nil {
		t.Fatalf("Failed to write cert file: %v", err)
	}
	if err := os.WriteFile(keyFile, serverCert.KeyPEM, 0600); err != nil {
		t.Fatalf("Failed to write key file: %v", err)
	}
	if err := os.WriteFile(caFile, ca.CertPEM, 0644); err != nil {
		t.Fatalf("Failed to write CA file: %v", err)
	}
	return certFile, keyFile, caFile
}

func TestLoadTLSConfig_Disabled(t *testing.T) {
	cfg := &TLSConfig{Enabled: false}

	tlsConfig, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("LoadTLSConfig() error = %v, want nil", err)
	}
	if tlsConfig != nil {
		t.Errorf("LoadTLSConfig() = %v, want nil for disabled TLS", tlsConfig)
	}
}

func TestLoadTLSConfig_ValidConfig(t *testing.T) {
	certFile, keyFile, _ := writeServerCert(t)

	cfg := &TLSConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
	}

	tlsConfig, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("LoadTLSConfig() error = %v", err)
	}
	if len(tlsConfig.Certificates) != 1 {
		t.Errorf("expected 1 certificate, got %d", len(tlsConfig.Certificates))
	}
	if tlsConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2 default", tlsConfig.MinVersion)
	}
}

func TestLoadTLSConfig_MissingCertFile(t *testing.T) {
	cfg := &TLSConfig{
		Enabled:  true,
		CertFile: "/nonexistent/cert.pem",
		KeyFile:  "/nonexistent/key.pem",
	}

	if _, err := cfg.LoadTLSConfig(); err == nil {
		t.Error("expected error for missing certificate files")
	}
}

func TestLoadTLSConfig_WithTLSVersions(t *testing.T) {
	certFile, keyFile, _ := writeServerCert(t)

	cfg := &TLSConfig{
		Enabled:    true,
		CertFile:   certFile,
		KeyFile:    keyFile,
		MinVersion: "TLS1.3",
		MaxVersion: "TLS1.3",
	}

	tlsConfig, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("LoadTLSConfig() error = %v", err)
	}
	if tlsConfig.MinVersion != tls.VersionTLS13 {
		t.Errorf("MinVersion = %x, want TLS 1.3", tlsConfig.MinVersion)
	}
	if tlsConfig.MaxVersion != tls.VersionTLS13 {
		t.Errorf("MaxVersion = %x, want TLS 1.3", tlsConfig.MaxVersion)
	}
}

func TestLoadTLSConfig_WithCipherSuites(t *testing.T) {
	certFile, keyFile, _ := writeServerCert(t)

	cfg := &TLSConfig{
		Enabled:  true,
		CertFile: certFile,
		KeyFile:  keyFile,
		CipherSuites: []string{
			"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256",
			"TLS_AES_256_GCM_SHA384",
		},
	}

	tlsConfig, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("LoadTLSConfig() error = %v", err)
	}
	if len(tlsConfig.CipherSuites) != 2 {
		t.Errorf("expected 2 cipher suites, got %d", len(tlsConfig.CipherSuites))
	}
}

func TestLoadTLSConfig_InvalidCipherSuite(t *testing.T) {
	certFile, keyFile, _ := writeServerCert(t)

	cfg := &TLSConfig{
		Enabled:      true,
		CertFile:     certFile,
		KeyFile:      keyFile,
		CipherSuites: []string{"TLS_BOGUS_SUITE"},
	}

	if _, err := cfg.LoadTLSConfig(); err == nil {
		t.Error("expected error for unknown cipher suite")
	}
}

func TestLoadTLSConfig_WithClientAuth(t *testing.T) {
	certFile, keyFile, caFile := writeServerCert(t)

	cfg := &TLSConfig{
		Enabled:    true,
		CertFile:   certFile,
		KeyFile:    keyFile,
		CAFile:     caFile,
		ClientAuth: "require_and_verify",
	}

	tlsConfig, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("LoadTLSConfig() error = %v", err)
	}
	if tlsConfig.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("ClientAuth = %v, want RequireAndVerifyClientCert", tlsConfig.ClientAuth)
	}
	if tlsConfig.ClientCAs == nil {
		t.Error("expected a populated client CA pool")
	}
}

func TestLoadTLSConfig_InvalidClientAuthType(t *testing.T) {
	certFile, keyFile, _ := writeServerCert(t)

	cfg := &TLSConfig{
		Enabled:    true,
		CertFile:   certFile,
		KeyFile:    keyFile,
		ClientAuth: "sometimes",
	}

	if _, err := cfg.LoadTLSConfig(); err == nil {
		t.Error("expected error for unknown client auth type")
	}
}

func TestParseTLSVersion(t *testing.T) {
	tests := []struct {
		input string
		want  uint16
	}{
		{"TLS1.0", tls.VersionTLS10},
		{"TLS1.1", tls.VersionTLS11},
		{"TLS1.2", tls.VersionTLS12},
		{"TLS1.3", tls.VersionTLS13},
		{"bogus", tls.VersionTLS12}, // falls back to the default
		{"", tls.VersionTLS12},
	}

	for _, tt := range tests {
		if got := parseTLSVersion(tt.input); got != tt.want {
			t.Errorf("parseTLSVersion(%q) = %x, want %x", tt.input, got, tt.want)
		}
	}
}

func TestParseClientAuthType(t *testing.T) {
	tests := []struct {
		input   string
		want    tls.ClientAuthType
		wantErr bool
	}{
		{"none", tls.NoClientCert, false},
		{"", tls.NoClientCert, false},
		{"request", tls.RequestClientCert, false},
		{"require", tls.RequireAnyClientCert, false},
		{"verify", tls.VerifyClientCertIfGiven, false},
		{"require_and_verify", tls.RequireAndVerifyClientCert, false},
		{"bogus", tls.NoClientCert, true},
	}

	for _, tt := range tests {
		got, err := parseClientAuthType(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseClientAuthType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseClientAuthType(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLoadCertPool(t *testing.T) {
	_, _, caFile := writeServerCert(t)
	_, _, secondCA := writeServerCert(t)

	t.Run("single CA", func(t *testing.T) {
		pool, err := loadCertPool(caFile, nil)
		if err != nil {
			t.Fatalf("loadCertPool() error = %v", err)
		}
		if pool == nil {
			t.Fatal("expected a cert pool")
		}
	})

	t.Run("multiple CAs", func(t *testing.T) {
		pool, err := loadCertPool(caFile, []string{secondCA})
		if err != nil {
			t.Fatalf("loadCertPool() error = %v", err)
		}
		if pool == nil {
			t.Fatal("expected a cert pool")
		}
	})

	t.Run("missing CA file", func(t *testing.T) {
		if _, err := loadCertPool("/nonexistent/ca.pem", nil); err == nil {
			t.Error("expected error for missing CA file")
		}
	})

	t.Run("invalid CA content", func(t *testing.T) {
		dir := t.TempDir()
		garbage := filepath.Join(dir, "garbage.pem")
		if err := os.WriteFile(garbage, []byte("not a certificate"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := loadCertPool(garbage, nil); err == nil {
			t.Error("expected error for unparseable CA content")
		}
	})

	t.Run("additional CA error", func(t *testing.T) {
		if _, err := loadCertPool(caFile, []string{"/nonexistent/extra.pem"}); err == nil {
			t.Error("expected error for missing additional CA")
		}
	})
}

func TestLoadTLSConfig_MutualTLSHandshake(t *testing.T) {
	ca, err := testutil.GenerateTestCA()
	if err != nil {
		t.Fatalf("Failed to generate CA: %v", err)
	}
	serverCert, err := testutil.GenerateTestServerCert(ca, "localhost")
	if err != nil {
		t.Fatalf("Failed to generate server cert: %v", err)
	}
	clientCert, err := testutil.GenerateTestClientCert(ca, "mtls-client")
	if err != nil {
		t.Fatalf("Failed to generate client cert: %v", err)
	}

	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	caFile := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(certFile, serverCert.CertPEM, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, serverCert.KeyPEM, 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(caFile, ca.CertPEM, 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &TLSConfig{
		Enabled:    true,
		CertFile:   certFile,
		KeyFile:    keyFile,
		CAFile:     caFile,
		ClientAuth: "require_and_verify",
	}
	serverTLS, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("LoadTLSConfig() error = %v", err)
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverTLS)
	if err != nil {
		t.Fatalf("tls.Listen() error = %v", err)
	}
	defer ln.Close()

	// One handshake result per accepted connection; the goroutine exits
	// when the deferred Close unblocks Accept.
	handshakes := make(chan error, 2)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			handshakes <- conn.(*tls.Conn).Handshake()
			conn.Close()
		}
	}()

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(ca.CertPEM) {
		t.Fatal("failed to add CA to root pool")
	}

	t.Run("client certificate accepted", func(t *testing.T) {
		conn, err := tls.Dial("tcp", ln.Addr().String(), &tls.Config{
			RootCAs:      roots,
			ServerName:   "localhost",
			Certificates: []tls.Certificate{clientCert.TLSCert},
			MinVersion:   tls.VersionTLS12,
		})
		if err != nil {
			t.Fatalf("client handshake error = %v", err)
		}
		conn.Close()
		if err := <-handshakes; err != nil {
			t.Errorf("server handshake error = %v", err)
		}
	})

	t.Run("missing client certificate rejected", func(t *testing.T) {
		// Under TLS 1.3 the client side may finish before the server
		// rejects the empty certificate, so only the server verdict counts.
		conn, err := tls.Dial("tcp", ln.Addr().String(), &tls.Config{
			RootCAs:    roots,
			ServerName: "localhost",
			MinVersion: tls.VersionTLS12,
		})
		if err == nil {
			conn.Close()
		}
		if err := <-handshakes; err == nil {
			t.Error("server accepted a client without a certificate")
		}
	})
}
