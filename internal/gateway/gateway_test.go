package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"vaultline/internal/crypto"
	"vaultline/internal/domain"
	"vaultline/internal/gateway"
	"vaultline/internal/logging"
	"vaultline/internal/metrics"
	"vaultline/internal/store"
)

type fakeTokens map[string]domain.UserID

func (f fakeTokens) VerifySessionToken(_ context.Context, token string) (*domain.SessionClaims, error) {
	user, ok := f[token]
	if !ok {
		return nil, domain.NewAuthError("invalid_token", "invalid token", nil)
	}
	return &domain.SessionClaims{UserID: user}, nil
}

type env struct {
	srv   *httptest.Server
	dir   *gateway.Directory
	relay *store.RelayStore
}

func newEnv(t *testing.T, cfg gateway.Config) *env {
	t.Helper()
	backend := logging.Discard()
	relay, err := store.OpenRelayStore(filepath.Join(t.TempDir(), "relay.db"), backend.GetLogger("relay"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = relay.Close() })

	m := metrics.New()
	dir := gateway.NewDirectory(m)
	tokens := fakeTokens{"tok-alice": "alice", "tok-bob": "bob"}
	gw := gateway.New(tokens, relay, dir, cfg, m, backend.GetLogger("gateway"))

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return &env{srv: srv, dir: dir, relay: relay}
}

type testClient struct {
	ws     *websocket.Conn
	secret []byte
	id     domain.ConnectionID
}

func (e *env) dial(t *testing.T) *testClient {
	t.Helper()
	priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/?pk=" + crypto.PublicKeyHex(priv.PublicKey())
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	var hello domain.HandshakeMessage
	require.NoError(t, ws.ReadJSON(&hello))
	require.NotEmpty(t, hello.ConnectionID)

	serverPub, err := crypto.ParsePublicKeyHex(hello.HandshakePublicKeyHex)
	require.NoError(t, err)
	secret, err := crypto.SharedSecret(priv, serverPub)
	require.NoError(t, err)
	return &testClient{ws: ws, secret: secret, id: hello.ConnectionID}
}

func (c *testClient) sendPlain(t *testing.T, plain []byte) {
	t.Helper()
	sealed, err := crypto.SealFrame(c.secret, plain)
	require.NoError(t, err)
	require.NoError(t, c.ws.WriteMessage(websocket.BinaryMessage, sealed))
}

func (c *testClient) verify(t *testing.T, token string) {
	t.Helper()
	b, err := gateway.EncodeVerification(token)
	require.NoError(t, err)
	c.sendPlain(t, b)
}

func (c *testClient) relay(t *testing.T, to domain.UserID, payload string) {
	t.Helper()
	b, err := gateway.EncodeRelay(to, []byte(payload))
	require.NoError(t, err)
	c.sendPlain(t, b)
}

func (c *testClient) receive(t *testing.T) domain.DeliveryFrame {
	t.Helper()
	require.NoError(t, c.ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	mt, data, err := c.ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, mt)
	plain, err := crypto.OpenFrame(c.secret, data)
	require.NoError(t, err)
	f, err := gateway.DecodeDelivery(plain)
	require.NoError(t, err)
	return f
}

func (c *testClient) expectClose(t *testing.T, code int, reason string) {
	t.Helper()
	require.NoError(t, c.ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	mt, data, err := c.ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	var msg domain.CloseMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, domain.CloseMessage{Code: code, Error: reason}, msg)

	_, _, err = c.ws.ReadMessage()
	require.True(t, websocket.IsCloseError(err, code), "got %v", err)
}

func (e *env) waitVerified(t *testing.T, user domain.UserID) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := e.dir.Lookup(user)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func (e *env) waitRelaySize(t *testing.T, user domain.UserID, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		n, err := e.relay.Size(context.Background(), user)
		return err == nil && n == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGateway_RejectsBadPublicKeyBeforeUpgrade(t *testing.T) {
	e := newEnv(t, gateway.Config{})

	for _, target := range []string{"/", "/?pk=zz", "/?pk=04abcdef"} {
		resp, err := http.Get(e.srv.URL + target)
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, target)

		var body domain.CloseMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, "invalid_public_key", body.Error)
		_ = resp.Body.Close()
	}
}

func TestGateway_OfflineMessagesDrainOnVerification(t *testing.T) {
	e := newEnv(t, gateway.Config{})

	alice := e.dial(t)
	alice.verify(t, "tok-alice")
	e.waitVerified(t, "alice")

	alice.relay(t, "bob", "first")
	alice.relay(t, "bob", "second")
	e.waitRelaySize(t, "bob", 2)

	bob := e.dial(t)
	bob.verify(t, "tok-bob")

	f1 := bob.receive(t)
	f2 := bob.receive(t)
	require.Equal(t, domain.UserID("alice"), f1.Sender)
	require.Equal(t, []byte("first"), f1.Payload)
	require.Equal(t, []byte("second"), f2.Payload)
	require.NotZero(t, f1.SentAt)

	e.waitRelaySize(t, "bob", 0)
}

func TestGateway_DirectDeliveryBypassesRelay(t *testing.T) {
	e := newEnv(t, gateway.Config{})

	alice := e.dial(t)
	alice.verify(t, "tok-alice")
	bob := e.dial(t)
	bob.verify(t, "tok-bob")
	e.waitVerified(t, "alice")
	e.waitVerified(t, "bob")

	alice.relay(t, "bob", "live")
	f := bob.receive(t)
	require.Equal(t, domain.UserID("alice"), f.Sender)
	require.Equal(t, []byte("live"), f.Payload)

	n, err := e.relay.Size(context.Background(), "bob")
	require.NoError(t, err)
	require.Zero(t, n)

	userID, ok := e.dir.LookupConnection(bob.id)
	require.True(t, ok)
	require.Equal(t, domain.UserID("bob"), userID)
}

func TestGateway_BadTokenClosesUnauthorized(t *testing.T) {
	e := newEnv(t, gateway.Config{})

	c := e.dial(t)
	c.verify(t, "tok-mallory")
	c.expectClose(t, gateway.CloseUnauthorized, gateway.ReasonUnauthorized)

	require.Eventually(t, func() bool {
		pending, verified := e.dir.Counts()
		return pending == 0 && verified == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGateway_UndecryptableFrameClosesMalformed(t *testing.T) {
	e := newEnv(t, gateway.Config{})

	c := e.dial(t)
	require.NoError(t, c.ws.WriteMessage(websocket.BinaryMessage, []byte("definitely not sealed with the secret")))
	c.expectClose(t, gateway.CloseMalformed, gateway.ReasonDecryptionFailed)
}

func TestGateway_RelayWithoutReceiverClosesMalformed(t *testing.T) {
	e := newEnv(t, gateway.Config{})

	c := e.dial(t)
	c.verify(t, "tok-alice")
	e.waitVerified(t, "alice")

	b, err := gateway.EncodeRelay("", []byte("nowhere"))
	require.NoError(t, err)
	c.sendPlain(t, b)
	c.expectClose(t, gateway.CloseMalformed, gateway.ReasonMalformedFrame)
}

func TestGateway_VerificationTimeout(t *testing.T) {
	e := newEnv(t, gateway.Config{VerifyTimeout: 100 * time.Millisecond})

	c := e.dial(t)
	c.expectClose(t, gateway.CloseUnauthorized, gateway.ReasonVerificationTimeout)
}

func TestGateway_DisconnectUnregisters(t *testing.T) {
	e := newEnv(t, gateway.Config{})

	c := e.dial(t)
	c.verify(t, "tok-alice")
	e.waitVerified(t, "alice")

	require.NoError(t, c.ws.Close())
	require.Eventually(t, func() bool {
		_, ok := e.dir.Lookup("alice")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func (e *env) waitPeers(t *testing.T, user domain.UserID, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(e.dir.Peers(user)) == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGateway_OtherDeviceStillReceivesAfterNewestCloses(t *testing.T) {
	e := newEnv(t, gateway.Config{})

	alice := e.dial(t)
	alice.verify(t, "tok-alice")
	phone := e.dial(t)
	phone.verify(t, "tok-bob")
	e.waitPeers(t, "bob", 1)
	laptop := e.dial(t)
	laptop.verify(t, "tok-bob")
	e.waitPeers(t, "bob", 2)
	e.waitVerified(t, "alice")

	require.NoError(t, laptop.ws.Close())
	e.waitPeers(t, "bob", 1)

	alice.relay(t, "bob", "still here?")
	f := phone.receive(t)
	require.Equal(t, domain.UserID("alice"), f.Sender)
	require.Equal(t, []byte("still here?"), f.Payload)

	n, err := e.relay.Size(context.Background(), "bob")
	require.NoError(t, err)
	require.Zero(t, n)
}
