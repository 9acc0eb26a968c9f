package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// ClientConfig builds the tls.Config used to upgrade a connection to host.
// With CACertificates set, only those roots are trusted; otherwise the
// system pool verifies the server certificate.
func (o TLSOptions) ClientConfig(host string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	if len(o.CACertificates) > 0 {
		pool := x509.NewCertPool()
		for i, pemData := range o.CACertificates {
			if !pool.AppendCertsFromPEM(pemData) {
				return nil, fmt.Errorf("ca_certificates[%d]: no PEM certificates found", i)
			}
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

// GeneratedCert is a self-signed server certificate plus its PEM form, which
// doubles as the CA a client must trust to verify it.
type GeneratedCert struct {
	Certificate tls.Certificate
	CertPEM     []byte
}

// GenerateSelfSignedCert creates a self-signed certificate for localhost.
// Used by the test harness and for development servers; production
// deployments bring their own certificates.
func GenerateSelfSignedCert() (GeneratedCert, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return GeneratedCert{}, err
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return GeneratedCert{}, err
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"pgsession"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return GeneratedCert{}, err
	}
	privDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return GeneratedCert{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return GeneratedCert{}, err
	}
	if len(certPEM) == 0 {
		return GeneratedCert{}, errors.New("failed to encode certificate PEM")
	}

	return GeneratedCert{Certificate: cert, CertPEM: certPEM}, nil
}
