package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vaultline/internal/crypto"
	"vaultline/internal/domain"
	"vaultline/internal/gateway"
)

// CloseError reports the {code, error} frame the gateway sent before it
// closed the connection.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("gateway closed connection: %d %s", e.Code, e.Reason)
}

// Conn is a client connection to the secure transport gateway.
type Conn struct {
	ws     *websocket.Conn
	secret []byte
	id     domain.ConnectionID

	writeMu sync.Mutex
}

// Dial connects to the gateway at base (http or ws scheme) and completes the
// key exchange. The returned Conn is not yet verified.
func Dial(ctx context.Context, base string) (*Conn, error) {
	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	u, err := gatewayURL(base, crypto.PublicKeyHex(priv.PublicKey()))
	if err != nil {
		return nil, err
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			var msg domain.CloseMessage
			if json.NewDecoder(resp.Body).Decode(&msg) == nil && msg.Error != "" {
				return nil, &CloseError{Code: msg.Code, Reason: msg.Error}
			}
		}
		return nil, err
	}

	var hello domain.HandshakeMessage
	if err := ws.ReadJSON(&hello); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	serverPub, err := crypto.ParsePublicKeyHex(hello.HandshakePublicKeyHex)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	secret, err := crypto.SharedSecret(priv, serverPub)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	return &Conn{ws: ws, secret: secret, id: hello.ConnectionID}, nil
}

func gatewayURL(base, pkHex string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path += "/v1/ws"
	}
	q := u.Query()
	q.Set("pk", pkHex)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Conn) ID() domain.ConnectionID { return c.id }

// Verify sends the session token as the first encrypted frame.
func (c *Conn) Verify(token string) error {
	b, err := gateway.EncodeVerification(token)
	if err != nil {
		return err
	}
	return c.send(b)
}

// Relay asks the gateway to deliver payload to receiver.
func (c *Conn) Relay(receiver domain.UserID, payload []byte) error {
	b, err := gateway.EncodeRelay(receiver, payload)
	if err != nil {
		return err
	}
	return c.send(b)
}

func (c *Conn) send(plain []byte) error {
	sealed, err := crypto.SealFrame(c.secret, plain)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, sealed)
}

// Receive waits for the next delivery or until ctx is done. A gateway
// rejection is returned as a *CloseError. After an error the connection is
// no longer usable.
func (c *Conn) Receive(ctx context.Context) (domain.DeliveryFrame, error) {
	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return domain.DeliveryFrame{}, err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.ws.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.DeliveryFrame{}, ctxErr
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return domain.DeliveryFrame{}, &CloseError{Code: ce.Code, Reason: ce.Text}
			}
			return domain.DeliveryFrame{}, err
		}
		switch mt {
		case websocket.TextMessage:
			var msg domain.CloseMessage
			if json.Unmarshal(data, &msg) == nil && msg.Code != 0 {
				return domain.DeliveryFrame{}, &CloseError{Code: msg.Code, Reason: msg.Error}
			}
		case websocket.BinaryMessage:
			plain, err := crypto.OpenFrame(c.secret, data)
			if err != nil {
				return domain.DeliveryFrame{}, err
			}
			return gateway.DecodeDelivery(plain)
		}
	}
}

// Close sends a normal closure and closes the socket.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
