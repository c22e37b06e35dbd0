package dpop

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/op/go-logging.v1"

	"vaultline/internal/crypto"
	"vaultline/internal/domain"
	"vaultline/internal/metrics"
)

// ProofType is the mandatory typ header of a DPoP proof.
const ProofType = "dpop+jwt"

// ProofClaims is the body of a DPoP proof.
type ProofClaims struct {
	HTM string `json:"htm"`
	HTU string `json:"htu"`
	// ATH is the base64url SHA-256 of the access token, when the client
	// includes it.
	ATH string `json:"ath,omitempty"`
	jwt.RegisteredClaims
}

type proofHeader struct {
	Typ string         `json:"typ"`
	Alg string         `json:"alg"`
	JWK map[string]any `json:"jwk"`
}

// Request is everything the verifier needs from one HTTP request.
type Request struct {
	Proof       string
	AccessToken string
	Method      string
	URL         string
}

// Result is returned for a proof that passed every check.
type Result struct {
	Session    *domain.SessionClaims
	Proof      *ProofClaims
	Thumbprint string
}

// Verifier checks DPoP proofs against session tokens.
type Verifier struct {
	tokens  domain.SessionTokenVerifier
	now     func() time.Time
	metrics *metrics.Metrics
	log     *logging.Logger
}

// NewVerifier returns a Verifier resolving access tokens through tokens.
// now may be nil.
func NewVerifier(
	tokens domain.SessionTokenVerifier,
	now func() time.Time,
	m *metrics.Metrics,
	log *logging.Logger,
) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{tokens: tokens, now: now, metrics: m, log: log}
}

// Verify runs the checks in order and stops at the first failure:
//  1. shape: three segments, a decodable header, typ dpop+jwt, ES256/ES384
//  2. required fields: alg, jwk, htm, htu, iat and an access token
//  3. htm against the request method, htu against the request URL with
//     query and fragment removed
//  4. exp, when present
//  5. the proof signature under the embedded jwk
//  6. the access token, and its cnf.jkt against the jwk thumbprint
func (v *Verifier) Verify(ctx context.Context, req Request) (*Result, error) {
	res, err := v.verify(ctx, req)
	if err != nil {
		code := domain.CodeOf(err)
		v.metrics.DPoPVerified(code)
		v.log.Debugf("dpop proof rejected: %s", code)
		return nil, err
	}
	v.metrics.DPoPVerified("ok")
	return res, nil
}

func (v *Verifier) verify(ctx context.Context, req Request) (*Result, error) {
	parts := strings.Split(req.Proof, ".")
	if len(parts) != 3 {
		return nil, fail(CodeInvalidFormat, errors.New("proof must have three segments"))
	}

	parser := jwt.NewParser()
	rawHeader, err := parser.DecodeSegment(parts[0])
	if err != nil {
		return nil, fail(CodeInvalidFormat, err)
	}
	var hdr proofHeader
	if err := json.Unmarshal(rawHeader, &hdr); err != nil {
		return nil, fail(CodeInvalidFormat, err)
	}
	if hdr.Typ != ProofType {
		return nil, fail(CodeInvalidType, nil)
	}
	if hdr.Alg == "" || len(hdr.JWK) == 0 {
		return nil, fail(CodeMissingFields, errors.New("alg and jwk are required"))
	}
	wantCurve, ok := algCurves[hdr.Alg]
	if !ok {
		return nil, fail(CodeInvalidType, errors.New(hdr.Alg))
	}

	claims := &ProofClaims{}
	if _, _, err := parser.ParseUnverified(req.Proof, claims); err != nil {
		return nil, fail(CodeInvalidFormat, err)
	}
	if claims.HTM == "" || claims.HTU == "" || claims.IssuedAt == nil || req.AccessToken == "" {
		return nil, fail(CodeMissingFields, errors.New("htm, htu, iat and an access token are required"))
	}

	if !strings.EqualFold(claims.HTM, req.Method) {
		return nil, fail(CodeMethodMismatch, nil)
	}
	proofURL, err := NormalizeURL(claims.HTU)
	if err != nil {
		return nil, fail(CodeURIMismatch, err)
	}
	requestURL, err := NormalizeURL(req.URL)
	if err != nil {
		return nil, fail(CodeURIMismatch, err)
	}
	if proofURL != requestURL {
		return nil, fail(CodeURIMismatch, nil)
	}

	if claims.ExpiresAt != nil && !v.now().Before(claims.ExpiresAt.Time) {
		return nil, fail(CodeExpired, nil)
	}

	pub, crv, err := publicKeyFromJWK(hdr.JWK)
	if err != nil {
		return nil, fail(CodeInvalidSignature, err)
	}
	if crv != wantCurve {
		return nil, fail(CodeInvalidSignature, errors.New("jwk curve does not match alg"))
	}
	sig, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fail(CodeInvalidSignature, err)
	}
	if err := jwt.GetSigningMethod(hdr.Alg).Verify(parts[0]+"."+parts[1], sig, pub); err != nil {
		return nil, fail(CodeInvalidSignature, err)
	}

	thumbprint, err := ComputeJWKThumbprint(hdr.JWK)
	if err != nil {
		return nil, fail(CodeInvalidSignature, err)
	}

	session, err := v.tokens.VerifySessionToken(ctx, req.AccessToken)
	if err != nil {
		if domain.KindOf(err) == domain.KindExpired {
			return nil, fail(CodeExpired, err)
		}
		if domain.KindOf(err) == domain.KindStorage {
			return nil, err
		}
		return nil, fail(CodeInvalidSignature, err)
	}
	if session.Thumbprint == "" ||
		subtle.ConstantTimeCompare([]byte(session.Thumbprint), []byte(thumbprint)) != 1 {
		return nil, fail(CodeKeyBindingMismatch, nil)
	}
	if claims.ATH != "" {
		sum := sha256.Sum256([]byte(req.AccessToken))
		if subtle.ConstantTimeCompare([]byte(claims.ATH), []byte(crypto.B64URL(sum[:]))) != 1 {
			return nil, fail(CodeKeyBindingMismatch, errors.New("ath does not match access token"))
		}
	}

	return &Result{Session: session, Proof: claims, Thumbprint: thumbprint}, nil
}
