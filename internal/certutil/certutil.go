// Package certutil loads or generates the self-signed certificate
// pinned by both ends of the QUIC transport (spec §4.2, §6). The
// atomic write-then-rename sequence below is adapted from the
// teacher's disk.go StateWriter.writeState, which persists a katzenpost
// client's encrypted statefile the same way: write to a .tmp path,
// then rename into place, so a crash mid-write never corrupts the
// file a later run depends on. There the file was an encrypted
// conversation state; here it's a DER certificate and key.
package certutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"time"
)

// LoadOrGenerate reads certPath/keyPath if both exist, or else
// generates a fresh self-signed ECDSA certificate for "localhost" and
// writes them atomically, matching spec §6's "generated on first run".
// Both files are raw DER, exactly as spec §6 specifies.
func LoadOrGenerate(certPath, keyPath string) (tls.Certificate, []byte, error) {
	if certDER, keyDER, err := readPair(certPath, keyPath); err == nil {
		if cert, parseErr := certFromDER(certDER, keyDER); parseErr == nil {
			return cert, certDER, nil
		}
	}

	certDER, keyDER, tlsCert, err := generate()
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	if err := writeAtomic(certPath, certDER); err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("certutil: writing %s: %w", certPath, err)
	}
	if err := writeAtomic(keyPath, keyDER); err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("certutil: writing %s: %w", keyPath, err)
	}
	return tlsCert, certDER, nil
}

func certFromDER(certDER, keyDER []byte) (tls.Certificate, error) {
	priv, err := x509.ParseECPrivateKey(keyDER)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certutil: parsing private key: %w", err)
	}
	if _, err := x509.ParseCertificate(certDER); err != nil {
		return tls.Certificate{}, fmt.Errorf("certutil: parsing certificate: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}

func readPair(certPath, keyPath string) (certDER, keyDER []byte, err error) {
	certDER, err = os.ReadFile(certPath)
	if err != nil {
		return nil, nil, err
	}
	keyDER, err = os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, err
	}
	return certDER, keyDER, nil
}

func generate() (certDER, keyDER []byte, cert tls.Certificate, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, tls.Certificate{}, fmt.Errorf("certutil: generating key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, tls.Certificate{}, fmt.Errorf("certutil: generating serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
		BasicConstraintsValid: true,
	}

	certDER, err = x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, tls.Certificate{}, fmt.Errorf("certutil: creating certificate: %w", err)
	}

	keyDER, err = x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, tls.Certificate{}, fmt.Errorf("certutil: marshaling key: %w", err)
	}

	cert = tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}
	return certDER, keyDER, cert, nil
}

// writeAtomic writes data to path via a temp file + rename, so a
// process killed mid-write leaves either the old file or the new one,
// never a half-written one.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RootCertPool builds an x509.CertPool trusting exactly the given
// DER-encoded certificate, for the client side's pinned trust (spec
// §6: "trusting the same self-signed certificate").
func RootCertPool(certDER []byte) (*x509.CertPool, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("certutil: parsing certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return pool, nil
}
