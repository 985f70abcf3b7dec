package tlsconfig

import (
    "crypto/ecdsa"
    "crypto/elliptic"
    "crypto/rand"
    "crypto/tls"
    "crypto/x509"
    "crypto/x509/pkix"
    "encoding/pem"
    "math/big"
    "testing"
    "time"

    "github.com/spf13/afero"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func writeSelfSigned(t *testing.T, fs afero.Fs) {
    t.Helper()
    key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
    require.NoError(t, err)
    tmpl := &x509.Certificate{
        SerialNumber:          big.NewInt(1),
        Subject:               pkix.Name{CommonName: "agent"},
        DNSNames:              []string{"agent"},
        NotBefore:             time.Now().Add(-time.Hour),
        NotAfter:              time.Now().Add(time.Hour),
        IsCA:                  true,
        BasicConstraintsValid: true,
        KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
    }
    der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
    require.NoError(t, err)
    kder, err := x509.MarshalECPrivateKey(key)
    require.NoError(t, err)
    certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
    require.NoError(t, afero.WriteFile(fs, "/tls/cert.pem", certPEM, 0o600))
    require.NoError(t, afero.WriteFile(fs, "/tls/ca.pem", certPEM, 0o600))
    require.NoError(t, afero.WriteFile(fs, "/tls/key.pem", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: kder}), 0o600))
}

func TestDisabledReturnsNil(t *testing.T) {
    s, err := Options{}.Server()
    require.NoError(t, err)
    assert.Nil(t, s)
    c, err := Options{}.Client()
    require.NoError(t, err)
    assert.Nil(t, c)
}

func TestServerRequiresKeyPair(t *testing.T) {
    _, err := Options{Enable: true, Fs: afero.NewMemMapFs()}.Server()
    assert.Error(t, err)
}

func TestMutualTLS(t *testing.T) {
    fs := afero.NewMemMapFs()
    writeSelfSigned(t, fs)
    o := Options{Enable: true, CAFile: "/tls/ca.pem", CertFile: "/tls/cert.pem", KeyFile: "/tls/key.pem", ServerName: "agent", Fs: fs}

    s, err := o.Server()
    require.NoError(t, err)
    assert.Len(t, s.Certificates, 1)
    assert.Equal(t, tls.RequireAndVerifyClientCert, s.ClientAuth)
    assert.NotNil(t, s.ClientCAs)

    c, err := o.Client()
    require.NoError(t, err)
    assert.Equal(t, "agent", c.ServerName)
    assert.NotNil(t, c.RootCAs)
    assert.Len(t, c.Certificates, 1)
}

func TestRejectsEmptyCA(t *testing.T) {
    fs := afero.NewMemMapFs()
    require.NoError(t, afero.WriteFile(fs, "/tls/ca.pem", []byte("not a cert"), 0o600))
    _, err := Options{Enable: true, CAFile: "/tls/ca.pem", Fs: fs}.Client()
    assert.ErrorContains(t, err, "no certificates")
}
