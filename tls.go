package judgewire

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"

	"github.com/edgelesssys/ego/enclave"
)

// ServerCertificate creates a fresh P-256 certificate for commonName. Inside an
// SGX enclave the certificate embeds an attestation report so masters can
// verify what they are talking to; elsewhere it falls back to self-signed.
func ServerCertificate(commonName string) (tls.Certificate, error) {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: commonName},
		DNSNames:     []string{commonName},
		IPAddresses:  localIPs(),
		NotBefore:    Now(),
		NotAfter:     Now().AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	cert, err := enclave.CreateAttestationCertificate(template, template, priv.Public(), priv)
	if err != nil {
		slog.Debug("Attestation unavailable, using a self-signed certificate", "error", err)
		cert, err = x509.CreateCertificate(rand.Reader, template, template, priv.Public(), priv)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to create self-signed certificate: %w", err)
		}
	}

	return tls.Certificate{
		Certificate: [][]byte{cert},
		PrivateKey:  priv,
	}, nil
}

// ServerTLSConfig wraps ServerCertificate in a TLS 1.2+ server config.
func ServerTLSConfig(commonName string) (*tls.Config, error) {
	cert, err := ServerCertificate(commonName)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// WriteCertificatePEM writes the leaf certificate of cert to path, so masters
// can pin it.
func WriteCertificatePEM(path string, cert tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return fmt.Errorf("no certificate to write")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for certificate: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create certificate file: %w", err)
	}
	defer file.Close()

	err = pem.Encode(file, &pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Certificate[0],
	})
	if err != nil {
		return fmt.Errorf("failed to write PEM data: %w", err)
	}

	// Set appropriate permissions
	if err := os.Chmod(path, 0644); err != nil {
		return fmt.Errorf("failed to set certificate file permissions: %w", err)
	}

	return nil
}
