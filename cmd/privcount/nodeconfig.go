package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/privcount/privcount/pkg/config"
	"github.com/privcount/privcount/pkg/identity"
)

// NodeConfig is the YAML file every subcommand loads via --config
// (spec.md §6 "Each takes a path to a YAML config file").
type NodeConfig struct {
	ListenAddr     string             `yaml:"listen_addr"`      // TS: inter-node protocol (DC/SK dial this as TSAddr)
	HTTPListenAddr string             `yaml:"http_listen_addr"` // TS: read-only outcomes/status surface
	TSAddr         string             `yaml:"ts_addr"`          // DC/SK: address of the Tally Server
	HandshakeKey   string             `yaml:"handshake_key_hex"`
	StateDir       string             `yaml:"state_dir"`
	PersistDriver  string             `yaml:"persist_driver"` // "file" (default) or "postgres"
	PostgresDSN    string             `yaml:"postgres_dsn,omitempty"`
	TorControl     TorControlConfig   `yaml:"tor_control"` // DC only
	Round          config.RoundConfig `yaml:"round"`       // TS only: the initial round to configure
}

// TorControlConfig is the DC's event source connection (spec.md §6
// "Event source").
type TorControlConfig struct {
	Addr         string `yaml:"addr"`
	CookiePath   string `yaml:"cookie_path,omitempty"`
	Password     string `yaml:"password,omitempty"`
}

// LoadNodeConfig reads and parses the YAML file at path.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("privcount: read config %s failed: %w", path, err)
	}
	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("privcount: parse config %s failed: %w", path, err)
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "./privcount-state"
	}
	if cfg.PersistDriver == "" {
		cfg.PersistDriver = "file"
	}
	if cfg.HTTPListenAddr == "" {
		cfg.HTTPListenAddr = ":8080"
	}
	return &cfg, nil
}

// LoadOrCreateIdentity loads this node's persistent secp256k1 identity
// keypair from <state_dir>/identity.key, generating and persisting one
// on first run. The derived Fingerprint is what the TS binds a node's
// RSA share-encryption key to out-of-band (spec.md §4.2, §4.5).
func LoadOrCreateIdentity(stateDir string) (*identity.KeyPair, error) {
	path := filepath.Join(stateDir, "identity.key")
	raw, err := os.ReadFile(path)
	if err == nil {
		b, decErr := hex.DecodeString(string(raw))
		if decErr != nil {
			return nil, fmt.Errorf("privcount: corrupt identity key %s: %w", path, decErr)
		}
		return identity.FromPrivateBytes(b)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("privcount: read identity key %s failed: %w", path, err)
	}

	kp, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("privcount: create state dir %s failed: %w", stateDir, err)
	}
	encoded := hex.EncodeToString(kp.Private.Serialize())
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("privcount: persist identity key %s failed: %w", path, err)
	}
	return kp, nil
}

// selfSignedTLSCert generates an ephemeral ECDSA P-256 certificate for
// the TS's listener. PrivCount's peer authentication is the
// application-layer HMAC handshake of pkg/handshake, not the TLS
// certificate chain (there is no CA distribution step in spec.md §6),
// so the TS's cert identity only needs to make the TLS transport
// usable; DC/SK dial with certificate verification disabled and rely
// on the handshake to authenticate the TS (see cmd/privcount's Dial
// call sites).
func selfSignedTLSCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("privcount: tls key generation failed: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("privcount: tls serial generation failed: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "privcount-ts"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * 365 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("privcount: tls certificate generation failed: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
