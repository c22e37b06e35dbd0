package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"vaultline/internal/crypto"
	"vaultline/internal/domain"
)

// ErrConnectionClosed is returned by Send once the connection is closing.
var ErrConnectionClosed = errors.New("gateway: connection closed")

type closeRequest struct {
	code   int
	reason string
}

// conn is one gateway connection. Only the writer goroutine touches the
// socket for writing; Send and CloseWithError hand work to it.
type conn struct {
	id     domain.ConnectionID
	ws     *websocket.Conn
	secret []byte

	writeTimeout time.Duration
	pingInterval time.Duration

	out      chan []byte
	closeReq chan closeRequest

	done       chan struct{}
	closeOnce  sync.Once
	writerDone chan struct{}
	closing    atomic.Bool
	verified   atomic.Bool

	// userID is written once by the read loop during verification.
	userID domain.UserID

	// onDrop, if set, is told how many queued frames were never written.
	onDrop func(n int)
}

func newConn(id domain.ConnectionID, ws *websocket.Conn, secret []byte, cfg Config) *conn {
	return &conn{
		id:           id,
		ws:           ws,
		secret:       secret,
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
		out:          make(chan []byte, cfg.SendQueue),
		closeReq:     make(chan closeRequest, 1),
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
	}
}

func (c *conn) ID() domain.ConnectionID { return c.id }

// Send encrypts payload and queues it. It blocks while the queue is full and
// fails once the connection is closing.
func (c *conn) Send(payload []byte) error {
	if c.closing.Load() {
		return ErrConnectionClosed
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	frame, err := crypto.SealFrame(c.secret, payload)
	if err != nil {
		return err
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	}
}

// CloseWithError asks the writer to send {code, error} in clear, then a
// close frame, then tear the socket down. Only the first call has effect.
func (c *conn) CloseWithError(code int, message string) {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	select {
	case c.closeReq <- closeRequest{code: code, reason: message}:
	default:
	}
}

// shutdown closes the socket and unblocks everyone waiting on done.
func (c *conn) shutdown() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.shutdown()
		if n := len(c.out); n > 0 && c.onDrop != nil {
			c.onDrop(n)
		}
		close(c.writerDone)
	}()

	for {
		select {
		case req := <-c.closeReq:
			c.writeClose(req)
			return
		case <-c.done:
			return
		default:
		}

		select {
		case frame := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case req := <-c.closeReq:
			c.writeClose(req)
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) writeClose(req closeRequest) {
	deadline := time.Now().Add(c.writeTimeout)
	_ = c.ws.SetWriteDeadline(deadline)
	if msg, err := json.Marshal(domain.CloseMessage{Code: req.code, Error: req.reason}); err == nil {
		_ = c.ws.WriteMessage(websocket.TextMessage, msg)
	}
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(req.code, req.reason), deadline)
}

// Compile-time assertion that conn implements domain.Peer.
var _ domain.Peer = (*conn)(nil)
