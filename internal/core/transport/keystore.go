package transport

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
)

var errNoCertificate = errors.New("no certificate found in PEM data")

// KeyStoreError is returned when the client credentials or the trusted
// authorities cannot be loaded.
type KeyStoreError struct {
	Op  string
	Err error
}

func (e *KeyStoreError) Error() string {
	return fmt.Sprintf("key store %s: %v", e.Op, e.Err)
}

func (e *KeyStoreError) Unwrap() error {
	return e.Err
}

type KeyStoreConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
}

// KeyStore holds the TLS material of the MQTT client. The trusted
// authorities can be replaced at runtime and apply to the next handshake.
type KeyStore struct {
	cfg KeyStoreConfig

	mu       sync.RWMutex
	fileCAs  [][]byte
	extraCAs [][]byte
	roots    *x509.CertPool
	cert     *tls.Certificate
}

func NewKeyStore(cfg KeyStoreConfig) *KeyStore {
	//nolint: exhaustruct // material is loaded by Init
	return &KeyStore{
		cfg: cfg,
	}
}

// Init loads the configured files. It can be called again to reload them.
func (k *KeyStore) Init() error {
	var fileCAs [][]byte
	if k.cfg.CAFile != "" {
		data, err := os.ReadFile(k.cfg.CAFile)
		if err != nil {
			return &KeyStoreError{Op: "read CA file", Err: err}
		}
		fileCAs = append(fileCAs, data)
	}

	var cert *tls.Certificate
	if k.cfg.CertFile != "" || k.cfg.KeyFile != "" {
		c, err := tls.LoadX509KeyPair(k.cfg.CertFile, k.cfg.KeyFile)
		if err != nil {
			return &KeyStoreError{Op: "load client certificate", Err: err}
		}
		c.Leaf, err = x509.ParseCertificate(c.Certificate[0])
		if err != nil {
			return &KeyStoreError{Op: "parse client certificate", Err: err}
		}
		cert = &c
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	roots, err := buildPool(fileCAs, k.extraCAs)
	if err != nil {
		return &KeyStoreError{Op: "load CA file", Err: err}
	}

	k.fileCAs = fileCAs
	k.roots = roots
	k.cert = cert

	return nil
}

// UpdateCA replaces the authorities received at runtime. Authorities from
// the CA file are kept. Nothing changes if any PEM is invalid.
func (k *KeyStore) UpdateCA(pems []string) error {
	extra := make([][]byte, 0, len(pems))
	for _, p := range pems {
		extra = append(extra, []byte(p))
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	roots, err := buildPool(k.fileCAs, extra)
	if err != nil {
		return &KeyStoreError{Op: "update CA", Err: err}
	}

	k.extraCAs = extra
	k.roots = roots

	return nil
}

// Roots returns the current pool, nil when no authority is configured.
func (k *KeyStore) Roots() *x509.CertPool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.roots
}

// TLSConfig returns a client config that verifies the broker against the
// authorities current at handshake time.
func (k *KeyStore) TLSConfig() *tls.Config {
	//nolint: exhaustruct // optional config
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		// verification is done in VerifyConnection with the live pool
		InsecureSkipVerify: true, //nolint:gosec // see VerifyConnection
		VerifyConnection:   k.verifyConnection,
		GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			k.mu.RLock()
			defer k.mu.RUnlock()
			if k.cert == nil {
				return &tls.Certificate{}, nil //nolint:exhaustruct // no client certificate
			}
			return k.cert, nil
		},
	}
}

func (k *KeyStore) verifyConnection(cs tls.ConnectionState) error {
	if k.cfg.InsecureSkipVerify {
		return nil
	}
	if len(cs.PeerCertificates) == 0 {
		return errors.New("broker presented no certificate")
	}

	intermediates := x509.NewCertPool()
	for _, c := range cs.PeerCertificates[1:] {
		intermediates.AddCert(c)
	}

	//nolint: exhaustruct // optional config
	opts := x509.VerifyOptions{
		DNSName:       cs.ServerName,
		Roots:         k.Roots(),
		Intermediates: intermediates,
	}

	if _, err := cs.PeerCertificates[0].Verify(opts); err != nil {
		return fmt.Errorf("verify broker certificate: %w", err)
	}

	return nil
}

func buildPool(groups ...[][]byte) (*x509.CertPool, error) {
	var pool *x509.CertPool

	for _, group := range groups {
		for _, data := range group {
			certs, err := parseCertificates(data)
			if err != nil {
				return nil, err
			}
			if pool == nil {
				pool = x509.NewCertPool()
			}
			for _, c := range certs {
				pool.AddCert(c)
			}
		}
	}

	return pool, nil
}

func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		certs = append(certs, c)
	}

	if len(certs) == 0 {
		return nil, errNoCertificate
	}

	return certs, nil
}
