// Package crt is the CA and leaf certificate factory described in §4.6:
// a self-signed root CA generated on first run, and short-TTL per-SNI leaf
// certificates minted on demand and cached in memory.
package crt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DisguiseProfile names a built-in subject-DN template for the generated
// CA, so the installed root cert doesn't read as an obvious MITM tool.
type DisguiseProfile string

const (
	ProfileCorporateIT  DisguiseProfile = "corporate_it"
	ProfileHomeRouter    DisguiseProfile = "home_router"
	ProfileSchoolNetwork DisguiseProfile = "school_network"
	ProfileGeneric       DisguiseProfile = "generic"
)

// disguiseSubjects maps a profile id to the CA certificate's subject DN.
var disguiseSubjects = map[DisguiseProfile]pkix.Name{
	ProfileCorporateIT: {
		Organization: []string{"Corporate IT Services"},
		CommonName:   "Corporate IT Root CA",
	},
	ProfileHomeRouter: {
		Organization: []string{"Home Network Gateway"},
		CommonName:   "Gateway Root CA",
	},
	ProfileSchoolNetwork: {
		Organization: []string{"School District Network Services"},
		CommonName:   "District Network Root CA",
	},
	ProfileGeneric: {
		Organization: []string{"Network Monitoring"},
		CommonName:   "Network Monitor Root CA",
	},
}

const caValidity = 10 * 365 * 24 * time.Hour

// CA is a loaded (or freshly generated) root certificate authority.
type CA struct {
	Cert    *x509.Certificate
	Key     *rsa.PrivateKey
	RawCert []byte // DER
	dir     string
	stamp   string // filename timestamp this CA was loaded/generated with
}

// rfc3339Stamp is a filename-safe UTC timestamp in the compact ISO 8601
// basic layout 20060102T150405Z (no separators, unlike RFC 3339); fixed width and
// lexicographically sortable, matching the CA-rotation scheme resolved in
// §9: the lexicographically (hence chronologically) greatest stamp among
// files in dir is the active CA.
func rfc3339Stamp(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// LoadOrGenerateCA loads the active CA from dir (the lexicographically
// greatest "ca-*.crt"/"ca-*.key" pair), or generates a new one under
// profile if none exists. Existing CA files are never overwritten.
func LoadOrGenerateCA(dir string, profile DisguiseProfile) (*CA, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("crt: create ca dir: %w", err)
	}

	stamp, err := latestCAStamp(dir)
	if err != nil {
		return nil, err
	}
	if stamp != "" {
		return loadCA(dir, stamp)
	}
	return generateCA(dir, profile)
}

func latestCAStamp(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("crt: read ca dir: %w", err)
	}
	var stamps []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		const prefix, suffix = "ca-", ".crt"
		name := e.Name()
		if len(name) > len(prefix)+len(suffix) && name[:len(prefix)] == prefix {
			if name[len(name)-len(suffix):] == suffix {
				stamps = append(stamps, name[len(prefix):len(name)-len(suffix)])
			}
		}
	}
	if len(stamps) == 0 {
		return "", nil
	}
	sort.Strings(stamps)
	return stamps[len(stamps)-1], nil
}

func loadCA(dir, stamp string) (*CA, error) {
	certPEM, err := os.ReadFile(filepath.Join(dir, "ca-"+stamp+".crt"))
	if err != nil {
		return nil, fmt.Errorf("crt: read ca cert: %w", err)
	}
	keyPEM, err := os.ReadFile(filepath.Join(dir, "ca-"+stamp+".key"))
	if err != nil {
		return nil, fmt.Errorf("crt: read ca key: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, errors.New("crt: invalid ca cert pem")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crt: parse ca cert: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, errors.New("crt: invalid ca key pem")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crt: parse ca key: %w", err)
	}

	return &CA{Cert: cert, Key: key, RawCert: certBlock.Bytes, dir: dir, stamp: stamp}, nil
}

func generateCA(dir string, profile DisguiseProfile) (*CA, error) {
	subject, ok := disguiseSubjects[profile]
	if !ok {
		subject = disguiseSubjects[ProfileGeneric]
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("crt: generate ca key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("crt: generate ca serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:                subject,
		NotBefore:             now.Add(-1 * time.Minute),
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("crt: create ca cert: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("crt: parse generated ca cert: %w", err)
	}

	stamp := rfc3339Stamp(now)
	if err := writeNewOnly(filepath.Join(dir, "ca-"+stamp+".crt"), pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})); err != nil {
		return nil, err
	}
	keyDER := x509.MarshalPKCS1PrivateKey(key)
	if err := writeNewOnly(filepath.Join(dir, "ca-"+stamp+".key"), pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyDER})); err != nil {
		return nil, err
	}

	return &CA{Cert: cert, Key: key, RawCert: der, dir: dir, stamp: stamp}, nil
}

// writeNewOnly writes data to path, refusing to overwrite an existing file
// (§4.6: "persist CA cert + key... refuse to overwrite").
func writeNewOnly(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("crt: refuse to overwrite %s: %w", path, err)
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// ExportPEM returns the combined private-key+certificate PEM used by the
// proxy's own TLS stack.
func (c *CA) ExportPEM() ([]byte, error) {
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.RawCert})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(c.Key)})
	return append(certPEM, keyPEM...), nil
}

// ExportDER returns the raw CA certificate DER, for installation on client
// devices (e.g. via the installer landing page).
func (c *CA) ExportDER() []byte {
	return c.RawCert
}

// TLSCertificate returns the CA's own cert+key as a tls.Certificate, e.g.
// for serving the installer landing page over HTTPS.
func (c *CA) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{c.RawCert},
		PrivateKey:  c.Key,
		Leaf:        c.Cert,
	}
}
