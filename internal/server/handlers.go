package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"vaultline/internal/crypto"
	"vaultline/internal/domain"
	"vaultline/internal/protocol/dpop"
	"vaultline/internal/protocol/shiv"
)

// handleHandshake runs the second factor and then the SHIV handshake.
func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	var req HandshakeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		writeBadRequest(w, "invalid_body", "request body must be JSON")
		return
	}
	if req.ClientPublicKeyHex == "" {
		writeBadRequest(w, "missing_public_key", "clientPublicKeyHex is required")
		return
	}

	user, err := s.secondFactor.VerifySecondFactor(r.Context(), domain.UserID(req.UserID), []byte(req.Assertion))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := s.shiv.GenerateSession(r.Context(), shiv.GenerateRequest{
		DeviceInfo:         req.DeviceInfo,
		ClientPublicKeyHex: req.ClientPublicKeyHex,
		UserID:             user,
		Claims:             req.Claims,
		Thumbprint:         req.JKT,
	}, s.cfg.SessionLifetime)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, HandshakeResponse{
		Token:              sess.Token,
		ServerPublicKeyHex: sess.ServerPublicKeyHex,
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	claims, _ := SessionClaimsFromContext(r.Context())
	if err := s.shiv.Revoke(r.Context(), string(claims.GUID)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims, _ := SessionClaimsFromContext(r.Context())
	recs, err := s.sessions.ListByUser(r.Context(), claims.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := SessionList{Sessions: make([]SessionView, 0, len(recs))}
	for _, rec := range recs {
		out.Sessions = append(out.Sessions, SessionView{
			KID:        string(rec.KID),
			DeviceInfo: rec.DeviceInfo,
			LastSeenAt: rec.LastSeenAt,
			CreatedAt:  rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePrivileged mints a privileged token.
//
// Steps:
//  1. The X-Shiv-Session GUID must be the session the bearer token names.
//  2. The X-Shiv-Integrity tag must authenticate the raw body.
//  3. Only then is the body parsed and the token issued.
func (s *Server) handlePrivileged(w http.ResponseWriter, r *http.Request) {
	claims, _ := SessionClaimsFromContext(r.Context())

	guid := domain.SessionGUID(r.Header.Get(HeaderShivSession))
	if guid == "" || guid != claims.GUID {
		s.writeError(w, r, domain.NewAuthError("session_mismatch", "X-Shiv-Session does not match the token", nil))
		return
	}
	tag, err := crypto.DecodeB64URL(r.Header.Get(HeaderShivIntegrity))
	if err != nil || len(tag) == 0 {
		writeBadRequest(w, "invalid_integrity_tag", "X-Shiv-Integrity must be base64url")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeBadRequest(w, "invalid_body", "request body too large")
		return
	}

	ok, err := s.shiv.VerifyIntegrity(r.Context(), guid, body, tag)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeError(w, r, domain.NewAuthError("integrity_check_failed", "integrity check failed", nil))
		return
	}

	var req PrivilegedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(w, "invalid_body", "request body must be JSON")
		return
	}
	lifetime := time.Duration(req.LifetimeSeconds) * time.Second
	if lifetime <= 0 || lifetime > s.cfg.MaxPrivilegedLifetime {
		lifetime = s.cfg.MaxPrivilegedLifetime
	}

	token, expiresAt, err := s.shiv.IssuePrivilegedToken(r.Context(), *claims, req.Scope, lifetime, req.Extra)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PrivilegedResponse{Token: token, ExpiresAt: expiresAt.UTC()})
}

// handleWhoAmI is protected by DPoP: the session token alone is not enough.
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	token, _ := authToken(r, "DPoP")
	res, err := s.dpop.Verify(r.Context(), dpop.Request{
		Proof:       r.Header.Get(HeaderDPoP),
		AccessToken: token,
		Method:      r.Method,
		URL:         s.requestURL(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WhoAmIResponse{
		UserID:     string(res.Session.UserID),
		DeviceInfo: res.Session.DeviceInfo,
		Thumbprint: res.Thumbprint,
		ExpiresAt:  res.Session.ExpiresAt.UTC(),
	})
}

// requestURL reconstructs the absolute URL the client addressed.
func (s *Server) requestURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if s.cfg.TrustForwardedProto {
		switch p := strings.ToLower(r.Header.Get("X-Forwarded-Proto")); p {
		case "http", "https":
			scheme = p
		}
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
