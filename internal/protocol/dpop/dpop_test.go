package dpop_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"vaultline/internal/domain"
	"vaultline/internal/logging"
	"vaultline/internal/protocol/dpop"
)

const (
	accessToken = "session-token"
	targetURL   = "https://vault.example.com/v1/dpop/whoami"
)

// tokenTable stands in for the SHIV service.
type tokenTable map[string]error

type fakeTokens struct {
	thumbprint string
	failures   tokenTable
}

func (f *fakeTokens) VerifySessionToken(_ context.Context, token string) (*domain.SessionClaims, error) {
	if err, ok := f.failures[token]; ok {
		return nil, err
	}
	if token != accessToken {
		return nil, domain.NewAuthError("invalid_token", "invalid token", nil)
	}
	return &domain.SessionClaims{UserID: "alice", GUID: "guid-1", Thumbprint: f.thumbprint}, nil
}

var now = time.Unix(1_700_000_000, 0)

type fixture struct {
	key      *ecdsa.PrivateKey
	tokens   *fakeTokens
	verifier *dpop.Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	jkt, err := dpop.Thumbprint(&key.PublicKey)
	require.NoError(t, err)

	tokens := &fakeTokens{thumbprint: jkt, failures: tokenTable{}}
	v := dpop.NewVerifier(tokens, func() time.Time { return now }, nil, logging.Discard().GetLogger("dpop"))
	return &fixture{key: key, tokens: tokens, verifier: v}
}

func (f *fixture) proof(t *testing.T, method, url string) string {
	t.Helper()
	p, err := dpop.NewProof(f.key, method, url, accessToken, now, time.Minute)
	require.NoError(t, err)
	return p
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, domain.CodeOf(err))
}

func b64(v any) string {
	raw, _ := json.Marshal(v)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func TestVerify_AcceptsBoundProof(t *testing.T) {
	f := newFixture(t)
	res, err := f.verifier.Verify(context.Background(), dpop.Request{
		Proof:       f.proof(t, "GET", targetURL),
		AccessToken: accessToken,
		Method:      "get",
		URL:         targetURL + "?page=2#top",
	})
	require.NoError(t, err)
	require.Equal(t, domain.UserID("alice"), res.Session.UserID)
	require.Equal(t, f.tokens.thumbprint, res.Thumbprint)
	require.Equal(t, "GET", res.Proof.HTM)
}

func TestVerify_Shape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := func(proof string) dpop.Request {
		return dpop.Request{Proof: proof, AccessToken: accessToken, Method: "GET", URL: targetURL}
	}

	_, err := f.verifier.Verify(ctx, req("only.two"))
	requireCode(t, err, dpop.CodeInvalidFormat)

	_, err = f.verifier.Verify(ctx, req("!!!.e30.sig"))
	requireCode(t, err, dpop.CodeInvalidFormat)

	_, err = f.verifier.Verify(ctx, req(base64.RawURLEncoding.EncodeToString([]byte("not json"))+".e30.sig"))
	requireCode(t, err, dpop.CodeInvalidFormat)

	jwk, err := dpop.PublicJWK(&f.key.PublicKey)
	require.NoError(t, err)

	_, err = f.verifier.Verify(ctx, req(b64(map[string]any{"typ": "JWT", "alg": "ES256", "jwk": jwk})+".e30.sig"))
	requireCode(t, err, dpop.CodeInvalidType)

	_, err = f.verifier.Verify(ctx, req(b64(map[string]any{"typ": "dpop+jwt", "alg": "ES256"})+".e30.sig"))
	requireCode(t, err, dpop.CodeMissingFields)

	_, err = f.verifier.Verify(ctx, req(b64(map[string]any{"typ": "dpop+jwt", "alg": "HS256", "jwk": jwk})+".e30.sig"))
	requireCode(t, err, dpop.CodeInvalidType)

	header := b64(map[string]any{"typ": "dpop+jwt", "alg": "ES256", "jwk": jwk})
	_, err = f.verifier.Verify(ctx, req(header+"."+b64(map[string]any{"htm": "GET", "htu": targetURL})+".sig"))
	requireCode(t, err, dpop.CodeMissingFields)
}

func TestVerify_RequiresAccessToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.verifier.Verify(context.Background(), dpop.Request{
		Proof: f.proof(t, "GET", targetURL), Method: "GET", URL: targetURL,
	})
	requireCode(t, err, dpop.CodeMissingFields)
}

func TestVerify_MethodAndURIMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.verifier.Verify(ctx, dpop.Request{
		Proof: f.proof(t, "GET", targetURL), AccessToken: accessToken, Method: "POST", URL: targetURL,
	})
	requireCode(t, err, dpop.CodeMethodMismatch)

	_, err = f.verifier.Verify(ctx, dpop.Request{
		Proof: f.proof(t, "GET", targetURL), AccessToken: accessToken, Method: "GET",
		URL: "https://vault.example.com/v1/shiv/sessions",
	})
	requireCode(t, err, dpop.CodeURIMismatch)
}

func TestVerify_ExpiredProof(t *testing.T) {
	f := newFixture(t)
	p, err := dpop.NewProof(f.key, "GET", targetURL, accessToken, now.Add(-2*time.Minute), time.Minute)
	require.NoError(t, err)

	_, err = f.verifier.Verify(context.Background(), dpop.Request{
		Proof: p, AccessToken: accessToken, Method: "GET", URL: targetURL,
	})
	requireCode(t, err, dpop.CodeExpired)
	require.Equal(t, domain.KindExpired, domain.KindOf(err))
}

func TestVerify_SignatureMustMatchEmbeddedKey(t *testing.T) {
	f := newFixture(t)
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	otherJWK, err := dpop.PublicJWK(&other.PublicKey)
	require.NoError(t, err)

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, dpop.ProofClaims{
		HTM: "GET", HTU: targetURL,
		RegisteredClaims: jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now)},
	})
	tok.Header["typ"] = dpop.ProofType
	tok.Header["jwk"] = otherJWK
	forged, err := tok.SignedString(f.key)
	require.NoError(t, err)

	_, err = f.verifier.Verify(context.Background(), dpop.Request{
		Proof: forged, AccessToken: accessToken, Method: "GET", URL: targetURL,
	})
	requireCode(t, err, dpop.CodeInvalidSignature)
}

func TestVerify_RejectsOffCurveJWK(t *testing.T) {
	f := newFixture(t)
	jwk, err := dpop.PublicJWK(&f.key.PublicKey)
	require.NoError(t, err)
	y, err := base64.RawURLEncoding.DecodeString(jwk["y"].(string))
	require.NoError(t, err)
	y[len(y)-1] ^= 0x01
	jwk["y"] = base64.RawURLEncoding.EncodeToString(y)

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, dpop.ProofClaims{
		HTM: "GET", HTU: targetURL,
		RegisteredClaims: jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now)},
	})
	tok.Header["typ"] = dpop.ProofType
	tok.Header["jwk"] = jwk
	p, err := tok.SignedString(f.key)
	require.NoError(t, err)

	_, err = f.verifier.Verify(context.Background(), dpop.Request{
		Proof: p, AccessToken: accessToken, Method: "GET", URL: targetURL,
	})
	requireCode(t, err, dpop.CodeInvalidSignature)
}

func TestVerify_SessionTokenFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tokens.failures["expired-token"] = domain.NewExpiredError("token_expired", "expired", nil)

	mk := func(tok string) dpop.Request {
		p, err := dpop.NewProof(f.key, "GET", targetURL, tok, now, time.Minute)
		require.NoError(t, err)
		return dpop.Request{Proof: p, AccessToken: tok, Method: "GET", URL: targetURL}
	}

	_, err := f.verifier.Verify(ctx, mk("forged-token"))
	requireCode(t, err, dpop.CodeInvalidSignature)

	_, err = f.verifier.Verify(ctx, mk("expired-token"))
	requireCode(t, err, dpop.CodeExpired)
}

func TestVerify_KeyBindingMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.tokens.thumbprint = "someone-elses-key"
	_, err := f.verifier.Verify(ctx, dpop.Request{
		Proof: f.proof(t, "GET", targetURL), AccessToken: accessToken, Method: "GET", URL: targetURL,
	})
	requireCode(t, err, dpop.CodeKeyBindingMismatch)

	f.tokens.thumbprint = ""
	_, err = f.verifier.Verify(ctx, dpop.Request{
		Proof: f.proof(t, "GET", targetURL), AccessToken: accessToken, Method: "GET", URL: targetURL,
	})
	requireCode(t, err, dpop.CodeKeyBindingMismatch)
}

func TestVerify_AthMustMatchAccessToken(t *testing.T) {
	f := newFixture(t)
	f.tokens.failures = tokenTable{}
	p, err := dpop.NewProof(f.key, "GET", targetURL, "a-different-token", now, time.Minute)
	require.NoError(t, err)

	_, err = f.verifier.Verify(context.Background(), dpop.Request{
		Proof: p, AccessToken: accessToken, Method: "GET", URL: targetURL,
	})
	requireCode(t, err, dpop.CodeKeyBindingMismatch)
}

func TestComputeJWKThumbprint_Canonical(t *testing.T) {
	a := map[string]any{"kty": "EC", "crv": "P-256", "x": "xx", "y": "yy"}
	b := map[string]any{"y": "yy", "use": "sig", "x": "xx", "kid": "k1", "crv": "P-256", "kty": "EC"}

	ta, err := dpop.ComputeJWKThumbprint(a)
	require.NoError(t, err)
	tb, err := dpop.ComputeJWKThumbprint(b)
	require.NoError(t, err)
	require.Equal(t, ta, tb)

	sum := sha256.Sum256([]byte(`{"crv":"P-256","kty":"EC","x":"xx","y":"yy"}`))
	require.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), ta)

	_, err = dpop.ComputeJWKThumbprint(map[string]any{"kty": "EC", "crv": "P-256", "x": "xx"})
	require.Error(t, err)
}

func TestNormalizeURL(t *testing.T) {
	got, err := dpop.NormalizeURL("HTTPS://Vault.Example.com/v1/x?a=1#frag")
	require.NoError(t, err)
	require.Equal(t, "https://vault.example.com/v1/x", got)

	_, err = dpop.NormalizeURL("/relative/only")
	require.Error(t, err)
}
