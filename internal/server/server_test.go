package server_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vaultline/internal/crypto"
	"vaultline/internal/domain"
	"vaultline/internal/logging"
	"vaultline/internal/metrics"
	"vaultline/internal/protocol/dpop"
	"vaultline/internal/protocol/shiv"
	"vaultline/internal/security"
	"vaultline/internal/server"
	"vaultline/internal/store"
)

var (
	kdfSalt      = []byte("server-test-kdf-salt")
	assertionKey = []byte("server-test-assertion-key")
)

type env struct {
	srv *httptest.Server
	svc *shiv.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, shiv.Config{}, server.Config{MaxPrivilegedLifetime: 10 * time.Minute})
}

func newEnvWith(t *testing.T, shivCfg shiv.Config, cfg server.Config) *env {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := store.OpenDatabase("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.CloseDatabase(db) })

	backend := logging.Discard()
	m := metrics.New()
	sessions := store.NewSessionStore(nil, store.NewGormSessionRepository(db),
		[]byte("server-test-pepper-0123"), 0, backend.GetLogger("store"))
	shivCfg.KDFSalt = kdfSalt
	svc := shiv.New(sessions, shivCfg, m, backend.GetLogger("shiv"))
	verifier := dpop.NewVerifier(svc, nil, m, backend.GetLogger("dpop"))

	s := server.New(cfg,
		svc, sessions, security.NewSignedAssertionVerifier(assertionKey), verifier, nil, m, backend.GetLogger("http"))
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return &env{srv: srv, svc: svc}
}

type session struct {
	token  string
	guid   string
	secret []byte
}

func (e *env) do(t *testing.T, method, path string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func requireError(t *testing.T, resp *http.Response, body []byte, status int, code string) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode, string(body))
	var eb struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &eb))
	require.Equal(t, code, eb.Code)
	require.NotEmpty(t, eb.Error)
}

func (e *env) handshake(t *testing.T, user, jkt string) session {
	t.Helper()
	hs, err := shiv.NewClientHandshake()
	require.NoError(t, err)
	body, err := json.Marshal(server.HandshakeRequest{
		DeviceInfo:         "phone",
		ClientPublicKeyHex: hs.PublicKeyHex(),
		UserID:             user,
		Assertion:          security.SignAssertion(domain.UserID(user), assertionKey),
		JKT:                jkt,
	})
	require.NoError(t, err)

	resp, b := e.do(t, http.MethodPost, "/v1/shiv/session", body, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(b))
	var out server.HandshakeResponse
	require.NoError(t, json.Unmarshal(b, &out))

	secret, err := hs.Complete(out.ServerPublicKeyHex)
	require.NoError(t, err)
	guid, err := shiv.TokenGUID(out.Token)
	require.NoError(t, err)
	return session{token: out.Token, guid: string(guid), secret: secret}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealthzAndMetrics(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	e.handshake(t, "alice", "")
	resp, body := e.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "vaultline_shiv_sessions_issued_total 1")
}

func TestHandshake_Rejects(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodPost, "/v1/shiv/session", []byte("{"), nil)
	requireError(t, resp, body, http.StatusBadRequest, "invalid_body")

	resp, body = e.do(t, http.MethodPost, "/v1/shiv/session", []byte(`{"userId":"alice"}`), nil)
	requireError(t, resp, body, http.StatusBadRequest, "missing_public_key")

	resp, body = e.do(t, http.MethodPost, "/v1/shiv/session",
		[]byte(`{"userId":"alice","clientPublicKeyHex":"04abcd","assertion":"alice.bogus"}`), nil)
	requireError(t, resp, body, http.StatusUnauthorized, "second_factor_failed")

	good := security.SignAssertion("alice", assertionKey)
	resp, body = e.do(t, http.MethodPost, "/v1/shiv/session",
		[]byte(`{"userId":"alice","clientPublicKeyHex":"04abcd","assertion":"`+good+`"}`), nil)
	requireError(t, resp, body, http.StatusBadRequest, "invalid_public_key")
}

func TestSessions_ListAndRevoke(t *testing.T) {
	e := newEnv(t)
	first := e.handshake(t, "alice", "")
	e.handshake(t, "alice", "")

	resp, body := e.do(t, http.MethodGet, "/v1/shiv/sessions", nil, nil)
	requireError(t, resp, body, http.StatusUnauthorized, "missing_token")

	resp, body = e.do(t, http.MethodGet, "/v1/shiv/sessions", nil, bearer(first.token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list server.SessionList
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Sessions, 2)
	require.NotContains(t, string(body), crypto.B64URL(first.secret))

	resp, _ = e.do(t, http.MethodDelete, "/v1/shiv/session", nil, bearer(first.token))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = e.do(t, http.MethodGet, "/v1/shiv/sessions", nil, bearer(first.token))
	requireError(t, resp, body, http.StatusUnauthorized, "session_not_found")

	resp, body = e.do(t, http.MethodGet, "/v1/shiv/sessions", nil, bearer("garbage"))
	requireError(t, resp, body, http.StatusUnauthorized, "invalid_token")
}

func (e *env) privileged(t *testing.T, s session, body []byte, tagBody []byte, guid string) (*http.Response, []byte) {
	t.Helper()
	tag, err := shiv.SignIntegrity(s.secret, kdfSalt, shiv.DefaultIntegrityWindow, tagBody, time.Now())
	require.NoError(t, err)
	h := bearer(s.token)
	h[server.HeaderShivSession] = guid
	h[server.HeaderShivIntegrity] = crypto.B64URL(tag)
	return e.do(t, http.MethodPost, "/v1/shiv/privileged", body, h)
}

func TestPrivileged(t *testing.T) {
	e := newEnv(t)
	s := e.handshake(t, "alice", "")
	other := e.handshake(t, "alice", "")
	body := []byte(`{"scope":"vault:export","lifetimeSeconds":3600,"extra":{"item":"42"}}`)

	resp, raw := e.privileged(t, s, body, body, s.guid)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var out server.PrivilegedResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	require.WithinDuration(t, time.Now().Add(10*time.Minute), out.ExpiresAt, 5*time.Second)

	claims, err := e.svc.VerifyPrivilegedToken(context.Background(), out.Token, "vault:export")
	require.NoError(t, err)
	require.Equal(t, "alice", string(claims.UserID))

	t.Run("tampered body", func(t *testing.T) {
		tampered := bytes.Replace(body, []byte("42"), []byte("43"), 1)
		resp, raw := e.privileged(t, s, tampered, body, s.guid)
		requireError(t, resp, raw, http.StatusUnauthorized, "integrity_check_failed")
	})
	t.Run("other session header", func(t *testing.T) {
		resp, raw := e.privileged(t, s, body, body, other.guid)
		requireError(t, resp, raw, http.StatusUnauthorized, "session_mismatch")
	})
	t.Run("missing tag", func(t *testing.T) {
		h := bearer(s.token)
		h[server.HeaderShivSession] = s.guid
		resp, raw := e.do(t, http.MethodPost, "/v1/shiv/privileged", body, h)
		requireError(t, resp, raw, http.StatusBadRequest, "invalid_integrity_tag")
	})
	t.Run("reserved scope", func(t *testing.T) {
		reserved := []byte(`{"scope":"jwt-signing"}`)
		resp, raw := e.privileged(t, s, reserved, reserved, s.guid)
		requireError(t, resp, raw, http.StatusUnauthorized, "invalid_scope")
	})
}

func TestWhoAmI(t *testing.T) {
	e := newEnv(t)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	jkt, err := dpop.Thumbprint(&key.PublicKey)
	require.NoError(t, err)

	bound := e.handshake(t, "alice", jkt)
	unbound := e.handshake(t, "alice", "")
	target := e.srv.URL + "/v1/dpop/whoami"

	call := func(token, proof string) (*http.Response, []byte) {
		return e.do(t, http.MethodGet, "/v1/dpop/whoami?x=1", nil, map[string]string{
			"Authorization":   "DPoP " + token,
			server.HeaderDPoP: proof,
		})
	}

	proof, err := dpop.NewProof(key, http.MethodGet, target, bound.token, time.Now(), 0)
	require.NoError(t, err)
	resp, body := call(bound.token, proof)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var who server.WhoAmIResponse
	require.NoError(t, json.Unmarshal(body, &who))
	require.Equal(t, "alice", who.UserID)
	require.Equal(t, jkt, who.Thumbprint)

	proof, err = dpop.NewProof(key, http.MethodGet, target, unbound.token, time.Now(), 0)
	require.NoError(t, err)
	resp, body = call(unbound.token, proof)
	requireError(t, resp, body, http.StatusUnauthorized, dpop.CodeKeyBindingMismatch)

	proof, err = dpop.NewProof(key, http.MethodPost, target, bound.token, time.Now(), 0)
	require.NoError(t, err)
	resp, body = call(bound.token, proof)
	requireError(t, resp, body, http.StatusUnauthorized, dpop.CodeMethodMismatch)

	resp, body = call(bound.token, "")
	requireError(t, resp, body, http.StatusUnauthorized, dpop.CodeInvalidFormat)
}

func TestPrivileged_ExpiryMatchesTokenClock(t *testing.T) {
	issuedAt := time.Now().Add(-90 * time.Second).Truncate(time.Second)
	e := newEnvWith(t, shiv.Config{Now: func() time.Time { return issuedAt }},
		server.Config{MaxPrivilegedLifetime: 10 * time.Minute})
	s := e.handshake(t, "alice", "")
	body := []byte(`{"scope":"vault:export","lifetimeSeconds":120}`)

	tag, err := shiv.SignIntegrity(s.secret, kdfSalt, shiv.DefaultIntegrityWindow, body, issuedAt)
	require.NoError(t, err)
	h := bearer(s.token)
	h[server.HeaderShivSession] = s.guid
	h[server.HeaderShivIntegrity] = crypto.B64URL(tag)
	resp, raw := e.do(t, http.MethodPost, "/v1/shiv/privileged", body, h)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out server.PrivilegedResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	require.True(t, issuedAt.Add(2*time.Minute).Equal(out.ExpiresAt), "got %s", out.ExpiresAt)
}

func TestWhoAmI_ForwardedProtoNeedsTrust(t *testing.T) {
	for _, trusted := range []bool{false, true} {
		t.Run(fmt.Sprintf("trusted=%v", trusted), func(t *testing.T) {
			e := newEnvWith(t, shiv.Config{}, server.Config{TrustForwardedProto: trusted})
			key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
			require.NoError(t, err)
			jkt, err := dpop.Thumbprint(&key.PublicKey)
			require.NoError(t, err)
			s := e.handshake(t, "alice", jkt)

			httpsTarget := "https://" + strings.TrimPrefix(e.srv.URL, "http://") + "/v1/dpop/whoami"
			proof, err := dpop.NewProof(key, http.MethodGet, httpsTarget, s.token, time.Now(), 0)
			require.NoError(t, err)
			resp, body := e.do(t, http.MethodGet, "/v1/dpop/whoami", nil, map[string]string{
				"Authorization":     "DPoP " + s.token,
				server.HeaderDPoP:   proof,
				"X-Forwarded-Proto": "https",
			})
			if trusted {
				require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
				return
			}
			requireError(t, resp, body, http.StatusUnauthorized, dpop.CodeURIMismatch)
		})
	}
}
