package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gopkg.in/op/go-logging.v1"

	"vaultline/internal/crypto"
	"vaultline/internal/domain"
	"vaultline/internal/metrics"
	"vaultline/internal/util/keyedmutex"
)

// PublicKeyHeader carries the client public key when the query parameter is
// not used.
const PublicKeyHeader = "X-Handshake-Public-Key"

// Config tunes the transport. Zero values take the defaults below.
type Config struct {
	ReadLimit     int64
	WriteTimeout  time.Duration
	PingInterval  time.Duration
	PongTimeout   time.Duration
	VerifyTimeout time.Duration
	SendQueue     int
	// CheckOrigin is passed to the upgrader; nil accepts every origin.
	CheckOrigin func(*http.Request) bool
	// Now stamps DeliveryFrame.SentAt; defaults to time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= c.PingInterval {
		c.PongTimeout = 2 * c.PingInterval
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 30 * time.Second
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 64
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Gateway is the http.Handler that upgrades and serves connections.
type Gateway struct {
	cfg      Config
	tokens   domain.SessionTokenVerifier
	relay    domain.RelayStore
	dir      *Directory
	locks    keyedmutex.Map
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	log      *logging.Logger
}

// New constructs a Gateway. The Directory is injected so other components
// can inspect live connections.
func New(
	tokens domain.SessionTokenVerifier,
	relay domain.RelayStore,
	dir *Directory,
	cfg Config,
	m *metrics.Metrics,
	log *logging.Logger,
) *Gateway {
	cfg.applyDefaults()
	return &Gateway{
		cfg:    cfg,
		tokens: tokens,
		relay:  relay,
		dir:    dir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		metrics: m,
		log:     log,
	}
}

// ServeHTTP runs one connection from upgrade to close.
//
// Steps:
//  1. Parse the client public key; reject with 400 before upgrading.
//  2. Generate the server key pair and derive the connection secret.
//  3. Upgrade, send the handshake message in clear, register as pending.
//  4. Read frames until the socket closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pkHex := r.URL.Query().Get("pk")
	if pkHex == "" {
		pkHex = r.Header.Get(PublicKeyHeader)
	}
	clientPub, err := crypto.ParsePublicKeyHex(pkHex)
	if err != nil {
		g.metrics.ConnectionRejected("invalid_public_key")
		writeHTTPError(w, http.StatusBadRequest, domain.CodeOf(err))
		return
	}

	serverPriv, err := crypto.GenerateKeyPair()
	if err != nil {
		writeHTTPError(w, http.StatusInternalServerError, domain.CodeOf(err))
		return
	}
	secret, err := crypto.SharedSecret(serverPriv, clientPub)
	if err != nil {
		g.metrics.ConnectionRejected("invalid_public_key")
		writeHTTPError(w, http.StatusBadRequest, domain.CodeOf(err))
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debugf("upgrade failed: %v", err)
		return
	}

	c := newConn(domain.ConnectionID(uuid.NewString()), ws, secret, g.cfg)
	hello := domain.HandshakeMessage{
		HandshakePublicKeyHex: crypto.PublicKeyHex(serverPriv.PublicKey()),
		ConnectionID:          c.id,
	}
	_ = ws.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
	if err := ws.WriteJSON(hello); err != nil {
		_ = ws.Close()
		return
	}

	c.onDrop = func(n int) {
		g.metrics.FramesDropped(n)
		g.log.Warningf("connection %s closed with %d undelivered frames", c.id, n)
	}
	g.dir.RegisterPending(c)
	g.log.Debugf("connection %s pending (client key %s)", c.id, crypto.KeyFingerprint(clientPub))
	go c.writeLoop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.readLoop(ctx, c)
}

func (g *Gateway) readLoop(ctx context.Context, c *conn) {
	verifyTimer := time.AfterFunc(g.cfg.VerifyTimeout, func() {
		if !c.verified.Load() {
			g.reject(c, CloseUnauthorized, ReasonVerificationTimeout)
		}
	})

	defer func() {
		verifyTimer.Stop()
		g.dir.Unregister(c.id)
		if !c.closing.Load() {
			c.shutdown()
		}
		<-c.writerDone
		g.log.Debugf("connection %s closed", c.id)
	}()

	c.ws.SetReadLimit(g.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(g.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(g.cfg.PongTimeout))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if c.closing.Load() {
			continue
		}
		if mt != websocket.BinaryMessage {
			g.reject(c, CloseMalformed, ReasonMalformedFrame)
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(g.cfg.PongTimeout))

		if !c.verified.Load() {
			g.handleVerification(ctx, c, data)
		} else {
			g.handleRelay(ctx, c, data)
		}
	}
}

// handleVerification authenticates the connection and drains the user's
// offline queue to it.
func (g *Gateway) handleVerification(ctx context.Context, c *conn, data []byte) {
	plain, err := crypto.OpenFrame(c.secret, data)
	if err != nil {
		g.reject(c, CloseMalformed, ReasonDecryptionFailed)
		return
	}
	frame, err := decodeVerification(plain)
	if err != nil {
		g.reject(c, CloseMalformed, ReasonMalformedFrame)
		return
	}
	claims, err := g.tokens.VerifySessionToken(ctx, frame.SessionToken)
	if err != nil {
		g.log.Infof("connection %s failed verification: %s", c.id, domain.CodeOf(err))
		g.reject(c, CloseUnauthorized, ReasonUnauthorized)
		return
	}

	user := claims.UserID
	unlock := g.locks.Lock(string(user))
	defer unlock()

	if _, err := g.dir.Promote(c.id, user); err != nil {
		g.reject(c, CloseUnauthorized, ReasonUnauthorized)
		return
	}
	c.userID = user
	c.verified.Store(true)
	g.log.Infof("connection %s verified for %s", c.id, user)

	queued, err := g.relay.Drain(ctx, user)
	if err != nil {
		g.log.Errorf("relay drain for %s failed: %v", user, err)
		g.reject(c, CloseRelayUnavailable, ReasonRelayUnavailable)
		return
	}
	for i, item := range queued {
		if err := c.Send(item); err != nil {
			g.requeue(ctx, user, queued[i:])
			queued = queued[:i]
			break
		}
	}
	g.metrics.Drained(len(queued))
}

// requeue puts undelivered drained items back, oldest first.
func (g *Gateway) requeue(ctx context.Context, user domain.UserID, items [][]byte) {
	for _, item := range items {
		if err := g.relay.Enqueue(ctx, user, item); err != nil {
			g.log.Errorf("requeue for %s failed, %d items lost: %v", user, len(items), err)
			return
		}
	}
}

// handleRelay forwards one relay request to the receiver's most recent
// open connection or queues it. The receiver's lock is held across the lookup and the
// enqueue so a concurrent verification cannot miss the item.
func (g *Gateway) handleRelay(ctx context.Context, c *conn, data []byte) {
	plain, err := crypto.OpenFrame(c.secret, data)
	if err != nil {
		g.reject(c, CloseMalformed, ReasonDecryptionFailed)
		return
	}
	frame, err := decodeRelay(plain)
	if err != nil {
		g.reject(c, CloseMalformed, ReasonMalformedFrame)
		return
	}
	delivery, err := encodeDelivery(domain.DeliveryFrame{
		Sender:  c.userID,
		Payload: frame.Payload,
		SentAt:  g.cfg.Now().Unix(),
	})
	if err != nil {
		g.reject(c, CloseMalformed, ReasonMalformedFrame)
		return
	}

	unlock := g.locks.Lock(string(frame.Receiver))
	defer unlock()

	for _, peer := range g.dir.Peers(frame.Receiver) {
		if err := peer.Send(delivery); err == nil {
			g.metrics.Delivered("direct")
			return
		}
	}
	if err := g.relay.Enqueue(ctx, frame.Receiver, delivery); err != nil {
		g.log.Errorf("relay enqueue for %s failed: %v", frame.Receiver, err)
		g.reject(c, CloseRelayUnavailable, ReasonRelayUnavailable)
		return
	}
	g.metrics.Delivered("relayed")
}

func (g *Gateway) reject(c *conn, code int, reason string) {
	g.metrics.ConnectionRejected(reason)
	c.CloseWithError(code, reason)
}

func writeHTTPError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(domain.CloseMessage{Code: status, Error: code})
}
