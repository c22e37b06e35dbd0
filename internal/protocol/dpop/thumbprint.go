package dpop

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"vaultline/internal/crypto"
)

// ecThumbprintMembers is the RFC 7638 member set for EC keys. Field order
// is lexicographic, which is what the canonical form requires.
type ecThumbprintMembers struct {
	Crv string `json:"crv"`
	Kty string `json:"kty"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func jwkString(jwk map[string]any, name string) (string, error) {
	v, ok := jwk[name].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("jwk member %q missing", name)
	}
	return v, nil
}

// ComputeJWKThumbprint returns the base64url SHA-256 thumbprint of an EC
// JWK. Members other than crv, kty, x and y are ignored, so key order and
// extra members never change the result.
func ComputeJWKThumbprint(jwk map[string]any) (string, error) {
	var m ecThumbprintMembers
	var err error
	if m.Crv, err = jwkString(jwk, "crv"); err != nil {
		return "", err
	}
	if m.Kty, err = jwkString(jwk, "kty"); err != nil {
		return "", err
	}
	if m.X, err = jwkString(jwk, "x"); err != nil {
		return "", err
	}
	if m.Y, err = jwkString(jwk, "y"); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return crypto.B64URL(sum[:]), nil
}

type curveInfo struct {
	curve elliptic.Curve
	ecdh  ecdh.Curve
	size  int
}

var curves = map[string]curveInfo{
	"P-256": {curve: elliptic.P256(), ecdh: ecdh.P256(), size: 32},
	"P-384": {curve: elliptic.P384(), ecdh: ecdh.P384(), size: 48},
}

// algCurves pins each accepted algorithm to its curve.
var algCurves = map[string]string{
	"ES256": "P-256",
	"ES384": "P-384",
}

// publicKeyFromJWK imports an EC JWK and rejects points that are not on the
// named curve.
func publicKeyFromJWK(jwk map[string]any) (*ecdsa.PublicKey, string, error) {
	if kty, _ := jwk["kty"].(string); kty != "EC" {
		return nil, "", errors.New("jwk kty must be EC")
	}
	crv, err := jwkString(jwk, "crv")
	if err != nil {
		return nil, "", err
	}
	info, ok := curves[crv]
	if !ok {
		return nil, "", fmt.Errorf("unsupported curve %q", crv)
	}

	coord := func(name string) ([]byte, error) {
		s, err := jwkString(jwk, name)
		if err != nil {
			return nil, err
		}
		b, err := crypto.DecodeB64URL(s)
		if err != nil {
			return nil, fmt.Errorf("jwk %s: %w", name, err)
		}
		if len(b) != info.size {
			return nil, fmt.Errorf("jwk %s has %d bytes, want %d", name, len(b), info.size)
		}
		return b, nil
	}
	x, err := coord("x")
	if err != nil {
		return nil, "", err
	}
	y, err := coord("y")
	if err != nil {
		return nil, "", err
	}

	point := make([]byte, 0, 1+2*info.size)
	point = append(point, 0x04)
	point = append(point, x...)
	point = append(point, y...)
	if _, err := info.ecdh.NewPublicKey(point); err != nil {
		return nil, "", fmt.Errorf("jwk point: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: info.curve,
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}, crv, nil
}

// PublicJWK encodes pub as an EC JWK.
func PublicJWK(pub *ecdsa.PublicKey) (map[string]any, error) {
	var crv string
	for name, info := range curves {
		if info.curve == pub.Curve {
			crv = name
		}
	}
	if crv == "" {
		return nil, errors.New("dpop: unsupported curve")
	}
	size := curves[crv].size
	return map[string]any{
		"kty": "EC",
		"crv": crv,
		"x":   crypto.B64URL(pub.X.FillBytes(make([]byte, size))),
		"y":   crypto.B64URL(pub.Y.FillBytes(make([]byte, size))),
	}, nil
}

// NormalizeURL drops the query and fragment and lowercases scheme and host,
// the parts of a URL a proof's htu is compared on.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("dpop: %q is not an absolute URL", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
