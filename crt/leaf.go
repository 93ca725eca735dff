package crt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	leafCacheSize = 1000
	leafValidity  = 30 * 24 * time.Hour
	leafKeyBits   = 2048
)

// LeafFactory mints short-TTL per-SNI leaf certificates signed by a CA,
// caching them in an LRU keyed by SNI. Concurrent misses for the same SNI
// are coalesced so only one certificate is generated (§4.6).
type LeafFactory struct {
	ca    *CA
	cache *lru.Cache[string, *tls.Certificate]

	mu      sync.Mutex
	pending map[string]chan struct{} // closed once the mint for this SNI completes
}

// NewLeafFactory returns a LeafFactory minting leaves signed by ca.
func NewLeafFactory(ca *CA) (*LeafFactory, error) {
	cache, err := lru.New[string, *tls.Certificate](leafCacheSize)
	if err != nil {
		return nil, fmt.Errorf("crt: create leaf cache: %w", err)
	}
	return &LeafFactory{ca: ca, cache: cache, pending: make(map[string]chan struct{})}, nil
}

// Leaf returns the cached leaf certificate for sni, minting (and caching)
// one if absent. Concurrent callers for the same sni block on the first
// caller's mint rather than generating duplicate certificates.
func (f *LeafFactory) Leaf(sni string) (*tls.Certificate, error) {
	if crt, ok := f.cache.Get(sni); ok {
		return crt, nil
	}

	f.mu.Lock()
	if crt, ok := f.cache.Get(sni); ok {
		f.mu.Unlock()
		return crt, nil
	}
	if wait, inFlight := f.pending[sni]; inFlight {
		f.mu.Unlock()
		<-wait
		if crt, ok := f.cache.Get(sni); ok {
			return crt, nil
		}
		return nil, fmt.Errorf("crt: mint for %s failed in another goroutine", sni)
	}
	done := make(chan struct{})
	f.pending[sni] = done
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.pending, sni)
		f.mu.Unlock()
		close(done)
	}()

	crt, err := f.mint(sni)
	if err != nil {
		return nil, err
	}
	f.cache.Add(sni, crt)
	return crt, nil
}

func (f *LeafFactory) mint(sni string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, leafKeyBits)
	if err != nil {
		return nil, fmt.Errorf("crt: generate leaf key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("crt: generate leaf serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: sni},
		NotBefore:    now.Add(-1 * time.Minute),
		NotAfter:     now.Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	if ip := net.ParseIP(sni); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{sni}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, f.ca.Cert, &key.PublicKey, f.ca.Key)
	if err != nil {
		return nil, fmt.Errorf("crt: mint leaf for %s: %w", sni, err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, f.ca.RawCert},
		PrivateKey:  key,
	}, nil
}

// Len returns the number of cached leaf certificates.
func (f *LeafFactory) Len() int {
	return f.cache.Len()
}
