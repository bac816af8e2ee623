package transport_test

import (
	"crypto/tls"
	"crypto/x509"
)

func tlsState(leaf *x509.Certificate, serverName string) tls.ConnectionState {
	//nolint: exhaustruct // only the verified fields
	return tls.ConnectionState{
		ServerName:       serverName,
		PeerCertificates: []*x509.Certificate{leaf},
	}
}
