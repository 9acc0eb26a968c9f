package config

import (
	"crypto/tls"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	require.NoError(t, err)

	require.NotEmpty(t, cert.Certificate.Certificate)
	parsed, err := x509.ParseCertificate(cert.Certificate.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, parsed.DNSNames, "localhost")
	assert.True(t, parsed.IsCA)

	pool := x509.NewCertPool()
	assert.True(t, pool.AppendCertsFromPEM(cert.CertPEM), "PEM form must be usable as a trust root")
}

func TestClientConfigWithRoots(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	require.NoError(t, err)

	cfg, err := TLSOptions{CACertificates: [][]byte{cert.CertPEM}}.ClientConfig("db.internal")
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.NotNil(t, cfg.RootCAs)
}

func TestClientConfigSystemPool(t *testing.T) {
	cfg, err := TLSOptions{}.ClientConfig("db.internal")
	require.NoError(t, err)
	assert.Nil(t, cfg.RootCAs, "nil RootCAs means the system pool")
}

func TestClientConfigRejectsBadPEM(t *testing.T) {
	_, err := TLSOptions{CACertificates: [][]byte{[]byte("not a pem")}}.ClientConfig("h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no PEM certificates")
}
