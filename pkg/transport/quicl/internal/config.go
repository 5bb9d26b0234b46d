// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package internal

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/lucas-clemente/quic-go"

	"github.com/acctwire/acctwire-go/pkg/account"
)

// ALPN protocol identifier of acctwire over QUIC.
const ALPN = "acctwire/1"

// ServerName of an Account, as presented within its certificate.
func ServerName(acc account.Account) string {
	return acc.String() + ".acctwire"
}

// Certificate creates a self-signed certificate for the Identity's own
// ed25519 key. The TLS handshake proves the possession of this key, which
// binds the QUIC connection to the Account.
func Certificate(id *account.Identity) (tls.Certificate, error) {
	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: id.Account().String()},
		DNSNames:              []string{ServerName(id.Account())},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	key := id.PrivateKey()
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, key.Public(), key)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}

// CertificateAccount extracts the Account of a peer's self-signed
// certificate, checking its self-signature.
func CertificateAccount(cert *x509.Certificate) (account.Account, error) {
	key, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return account.Zero, fmt.Errorf("certificate key is a %T, not ed25519", cert.PublicKey)
	}

	if err := cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return account.Zero, fmt.Errorf("certificate is not self-signed: %w", err)
	}

	return account.FromPublicKey(key)
}

// verifyPeerCertificate replaces the chain verification: peers present
// self-signed certificates, which are checked against their Accounts later.
func verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return errors.New("peer presented no certificate")
	}

	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return err
	}

	_, err = CertificateAccount(cert)
	return err
}

// ListenerTLSConfig for a listening Identity, requiring the dialer's
// certificate as well.
func ListenerTLSConfig(id *account.Identity) (*tls.Config, error) {
	cert, err := Certificate(id)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		ClientAuth:            tls.RequireAnyClientCert,
		VerifyPeerCertificate: verifyPeerCertificate,
		NextProtos:            []string{ALPN},
		MinVersion:            tls.VersionTLS13,
	}, nil
}

// DialerTLSConfig for a dialing Identity towards the remote Account.
func DialerTLSConfig(id *account.Identity, remote account.Account) (*tls.Config, error) {
	cert, err := Certificate(id)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		ServerName:            ServerName(remote),
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: verifyPeerCertificate,
		NextProtos:            []string{ALPN},
		MinVersion:            tls.VersionTLS13,
	}, nil
}

// PeerAccount returns the Account of an established connection's peer
// certificate.
func PeerAccount(conn quic.Connection) (account.Account, error) {
	certs := conn.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		return account.Zero, errors.New("peer presented no certificate")
	}
	return CertificateAccount(certs[0])
}

// QUICConfig creates the QUIC configuration.
func QUICConfig(keepAlive, maxIdle, handshakeIdle time.Duration, maxStreams int64) *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:      keepAlive,
		MaxIdleTimeout:       maxIdle,
		HandshakeIdleTimeout: handshakeIdle,
		EnableDatagrams:      false,
		MaxIncomingStreams:   maxStreams,
	}
}
