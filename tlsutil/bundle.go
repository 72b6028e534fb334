// Package tlsutil loads the PEM material the driver needs to talk TLS to a
// Corvus deployment: trusted CA certificates, and optionally a client
// certificate and key for mutual TLS.
package tlsutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// ClientBundle is a parsed client PEM bundle: the CA pool used to verify the
// coordinators, and the client certificate+key presented to them.
type ClientBundle struct {
	Certificate tls.Certificate
	ClientCert  *x509.Certificate
	CACerts     []*x509.Certificate
	CAPool      *x509.CertPool
}

// LoadClientBundle reads and parses a client bundle from path.
func LoadClientBundle(path string) (*ClientBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client bundle: %w", err)
	}
	return ParseClientBundle(data)
}

// ParseClientBundle parses a concatenated PEM bundle. CA certificates are
// recognized by their IsCA flag; the first non-CA certificate becomes the
// client certificate and is paired with the private key matching its public
// key.
func ParseClientBundle(data []byte) (*ClientBundle, error) {
	var (
		caCerts    []*x509.Certificate
		caPool     = x509.NewCertPool()
		clientCert *x509.Certificate
		certPEM    []byte
		keyPEM     []byte
		keys       []parsedKey
	)
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("client bundle: parse certificate: %w", err)
			}
			switch {
			case cert.IsCA:
				caCerts = append(caCerts, cert)
				caPool.AddCert(cert)
			case clientCert == nil:
				clientCert = cert
				certPEM = pem.EncodeToMemory(block)
			default:
				// intermediates ride along in the chain
				certPEM = append(certPEM, pem.EncodeToMemory(block)...)
			}
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			signer, err := parsePrivateKey(block)
			if err != nil {
				return nil, fmt.Errorf("client bundle: parse private key: %w", err)
			}
			keys = append(keys, parsedKey{signer: signer, pem: pem.EncodeToMemory(block)})
		}
	}
	if len(caCerts) == 0 {
		return nil, errors.New("client bundle: CA certificate required")
	}
	if clientCert == nil {
		return nil, errors.New("client bundle: client certificate not found")
	}
	for _, key := range keys {
		if publicKeysEqual(clientCert.PublicKey, key.signer.Public()) {
			keyPEM = key.pem
			break
		}
	}
	if len(keyPEM) == 0 {
		return nil, errors.New("client bundle: matching private key not found")
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("client bundle: build key pair: %w", err)
	}
	return &ClientBundle{
		Certificate: pair,
		ClientCert:  clientCert,
		CACerts:     caCerts,
		CAPool:      caPool,
	}, nil
}

// LoadCAPool reads one or more PEM CA certificates from path into a pool,
// for deployments that verify the server against a private CA without
// presenting a client certificate.
func LoadCAPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no CA certificates found in %s", path)
	}
	return pool, nil
}

type parsedKey struct {
	signer crypto.Signer
	pem    []byte
}

func parsePrivateKey(block *pem.Block) (crypto.Signer, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
		return signer, nil
	}
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	switch pub := a.(type) {
	case *rsa.PublicKey:
		other, ok := b.(*rsa.PublicKey)
		return ok && pub.Equal(other)
	case *ecdsa.PublicKey:
		other, ok := b.(*ecdsa.PublicKey)
		return ok && pub.Equal(other)
	case ed25519.PublicKey:
		other, ok := b.(ed25519.PublicKey)
		return ok && pub.Equal(other)
	default:
		return false
	}
}
