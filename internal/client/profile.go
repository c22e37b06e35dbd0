package client

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"vaultline/internal/domain"
	"vaultline/internal/util/memzero"
)

// profileFormatVersion is the current on-disk envelope version.
const profileFormatVersion = 1

// ErrWrongPassphrase is returned when the passphrase is incorrect or the
// profile file has been modified.
var ErrWrongPassphrase = errors.New("client: wrong passphrase or corrupted profile")

// Profile is the client state persisted between CLI invocations.
type Profile struct {
	ServerURL  string             `json:"serverUrl"`
	UserID     domain.UserID      `json:"userId"`
	DeviceInfo string             `json:"deviceInfo,omitempty"`
	Token      string             `json:"token,omitempty"`
	GUID       domain.SessionGUID `json:"guid,omitempty"`
	Secret     []byte             `json:"secret,omitempty"`
	KDFSalt    []byte             `json:"kdfSalt,omitempty"`
	// DPoPKey is a PKCS#8 encoded ECDSA key.
	DPoPKey []byte `json:"dpopKey,omitempty"`
}

// SetDPoPKey stores key in the profile.
func (p *Profile) SetDPoPKey(key *ecdsa.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}
	p.DPoPKey = der
	return nil
}

// DPoPPrivateKey decodes the stored key.
func (p *Profile) DPoPPrivateKey() (*ecdsa.PrivateKey, error) {
	if len(p.DPoPKey) == 0 {
		return nil, errors.New("client: profile has no DPoP key, run keygen first")
	}
	k, err := x509.ParsePKCS8PrivateKey(p.DPoPKey)
	if err != nil {
		return nil, err
	}
	ec, ok := k.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("client: DPoP key is not ECDSA")
	}
	return ec, nil
}

// envelope is the on-disk JSON structure holding the ciphertext and the
// scrypt parameters used to derive its key.
type envelope struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

// scryptParams are the key derivation tunables.
var scryptParams = struct{ N, R, P int }{N: 1 << 15, R: 8, P: 1}

// sealEnvelope derives a key from passphrase and encrypts raw. Each call draws a
// fresh salt, so the derived key is never reused and a fixed nonce is safe.
func sealEnvelope(passphrase string, raw []byte) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt[:], scryptParams.N, scryptParams.R, scryptParams.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	return json.Marshal(envelope{
		V:      profileFormatVersion,
		Salt:   salt[:],
		N:      scryptParams.N,
		R:      scryptParams.R,
		P:      scryptParams.P,
		Cipher: aead.Seal(nil, nonce[:], raw, salt[:]),
	})
}

func openEnvelope(passphrase string, b []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("client: parse profile: %w", err)
	}
	if env.V > profileFormatVersion {
		return nil, fmt.Errorf("client: unsupported profile version %d", env.V)
	}
	key, err := scrypt.Key([]byte(passphrase), env.Salt, env.N, env.R, env.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], env.Cipher, env.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

// SaveProfile encrypts p under passphrase and writes it via a temp file and
// rename.
func SaveProfile(path, passphrase string, p *Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	defer memzero.Zero(raw)
	b, err := sealEnvelope(passphrase, raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadProfile reads and decrypts the profile at path. A missing file yields
// an empty profile.
func LoadProfile(path, passphrase string) (*Profile, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Profile{}, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := openEnvelope(passphrase, b)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(raw)
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("client: decode profile: %w", err)
	}
	return &p, nil
}
