package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vaultline/internal/crypto"
	"vaultline/internal/domain"
	"vaultline/internal/protocol/dpop"
	"vaultline/internal/protocol/shiv"
	"vaultline/internal/server"
)

// APIError is a non-2xx answer decoded from the server's {code, error} body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server: %d %s: %s", e.Status, e.Code, e.Message)
}

// HTTP talks to the vaultline HTTP API.
type HTTP struct {
	Base string
	HTTP *http.Client
	// Now is used for integrity windows and DPoP proofs.
	Now func() time.Time
}

func NewHTTP(base string) *HTTP {
	return &HTTP{Base: strings.TrimRight(base, "/"), HTTP: http.DefaultClient, Now: time.Now}
}

// HandshakeParams are the inputs to Handshake.
type HandshakeParams struct {
	UserID     domain.UserID
	DeviceInfo string
	Assertion  string
	// DPoPKey, when set, binds the session to its thumbprint.
	DPoPKey *ecdsa.PublicKey
	Claims  map[string]any
}

// Handshake is what a successful handshake leaves the client with.
type Handshake struct {
	Token  string
	GUID   domain.SessionGUID
	Secret []byte
}

// Handshake runs the SHIV exchange and derives the session secret locally.
func (c *HTTP) Handshake(ctx context.Context, p HandshakeParams) (Handshake, error) {
	hs, err := shiv.NewClientHandshake()
	if err != nil {
		return Handshake{}, err
	}
	req := server.HandshakeRequest{
		DeviceInfo:         p.DeviceInfo,
		ClientPublicKeyHex: hs.PublicKeyHex(),
		UserID:             string(p.UserID),
		Assertion:          p.Assertion,
		Claims:             p.Claims,
	}
	if p.DPoPKey != nil {
		if req.JKT, err = dpop.Thumbprint(p.DPoPKey); err != nil {
			return Handshake{}, err
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Handshake{}, err
	}
	var resp server.HandshakeResponse
	if err := c.do(ctx, http.MethodPost, "/v1/shiv/session", body, nil, &resp); err != nil {
		return Handshake{}, err
	}
	secret, err := hs.Complete(resp.ServerPublicKeyHex)
	if err != nil {
		return Handshake{}, err
	}
	guid, err := shiv.TokenGUID(resp.Token)
	if err != nil {
		return Handshake{}, err
	}
	return Handshake{Token: resp.Token, GUID: guid, Secret: secret}, nil
}

// Revoke ends the session token names.
func (c *HTTP) Revoke(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/v1/shiv/session", nil, bearer(token), nil)
}

// ListSessions returns the caller's sessions.
func (c *HTTP) ListSessions(ctx context.Context, token string) ([]server.SessionView, error) {
	var out server.SessionList
	if err := c.do(ctx, http.MethodGet, "/v1/shiv/sessions", nil, bearer(token), &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// Privileged requests a scoped token. The body is signed with an integrity
// tag derived from secret.
func (c *HTTP) Privileged(
	ctx context.Context,
	hs Handshake,
	kdfSalt []byte,
	req server.PrivilegedRequest,
) (server.PrivilegedResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return server.PrivilegedResponse{}, err
	}
	tag, err := shiv.SignIntegrity(hs.Secret, kdfSalt, shiv.DefaultIntegrityWindow, body, c.now())
	if err != nil {
		return server.PrivilegedResponse{}, err
	}
	headers := bearer(hs.Token)
	headers.Set(server.HeaderShivSession, string(hs.GUID))
	headers.Set(server.HeaderShivIntegrity, crypto.B64URL(tag))

	var out server.PrivilegedResponse
	if err := c.do(ctx, http.MethodPost, "/v1/shiv/privileged", body, headers, &out); err != nil {
		return server.PrivilegedResponse{}, err
	}
	return out, nil
}

// WhoAmI calls the DPoP protected endpoint with a fresh proof from key.
func (c *HTTP) WhoAmI(ctx context.Context, token string, key *ecdsa.PrivateKey) (server.WhoAmIResponse, error) {
	const path = "/v1/dpop/whoami"
	proof, err := dpop.NewProof(key, http.MethodGet, c.Base+path, token, c.now(), 0)
	if err != nil {
		return server.WhoAmIResponse{}, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "DPoP "+token)
	headers.Set(server.HeaderDPoP, proof)

	var out server.WhoAmIResponse
	if err := c.do(ctx, http.MethodGet, path, nil, headers, &out); err != nil {
		return server.WhoAmIResponse{}, err
	}
	return out, nil
}

func (c *HTTP) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *HTTP) do(ctx context.Context, method, path string, body []byte, headers http.Header, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, rd)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&eb) == nil {
			apiErr.Code, apiErr.Message = eb.Code, eb.Error
		} else {
			apiErr.Message = resp.Status
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
