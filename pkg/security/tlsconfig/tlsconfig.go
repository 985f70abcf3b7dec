// Package tlsconfig builds the TLS settings shared by the discovery agent's
// HTTP API and the http fleet backend.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"

    "github.com/spf13/afero"
)

// Options defines mTLS configuration inputs.
type Options struct {
    Enable             bool
    CAFile             string
    CertFile           string
    KeyFile            string
    InsecureSkipVerify bool
    ServerName         string
    // Fs reads the PEM files (default OS filesystem).
    Fs afero.Fs
}

func (o Options) fs() afero.Fs {
    if o.Fs != nil { return o.Fs }
    return afero.NewOsFs()
}

func (o Options) keyPair() (tls.Certificate, error) {
    certPEM, err := afero.ReadFile(o.fs(), o.CertFile)
    if err != nil { return tls.Certificate{}, err }
    keyPEM, err := afero.ReadFile(o.fs(), o.KeyFile)
    if err != nil { return tls.Certificate{}, err }
    return tls.X509KeyPair(certPEM, keyPEM)
}

func (o Options) pool() (*x509.CertPool, error) {
    ca, err := afero.ReadFile(o.fs(), o.CAFile)
    if err != nil { return nil, err }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(ca) { return nil, fmt.Errorf("tls: no certificates in %s", o.CAFile) }
    return pool, nil
}

// Server returns a tls.Config for servers if enabled, otherwise nil. A CA
// file turns on client certificate verification.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" {
        return nil, errors.New("tls: server cert/key required when TLS enabled")
    }
    cert, err := o.keyPair()
    if err != nil { return nil, err }
    cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
    if o.CAFile != "" {
        pool, err := o.pool()
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}

// Client returns a tls.Config for clients if enabled, otherwise nil.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{InsecureSkipVerify: o.InsecureSkipVerify, MinVersion: tls.VersionTLS12} //nolint:gosec
    if o.ServerName != "" { cfg.ServerName = o.ServerName }
    if o.CAFile != "" {
        pool, err := o.pool()
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    if o.CertFile != "" && o.KeyFile != "" {
        cert, err := o.keyPair()
        if err != nil { return nil, err }
        cfg.Certificates = []tls.Certificate{cert}
    }
    return cfg, nil
}
