package server

import (
	"encoding/json"
	"errors"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"vaultline/internal/domain"
)

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// statusFor maps an error kind to the HTTP status clients see.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindAuth, domain.KindExpired:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindCrypto, domain.KindInvalid:
		return http.StatusBadRequest
	case domain.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err without its cause. Errors outside the domain
// taxonomy become a generic 500 and are logged with the request id.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		s.log.Errorf("[%s] %s %s: %v", chimiddleware.GetReqID(r.Context()), r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "internal_error", Error: "internal error"})
		return
	}
	status := statusFor(de.Kind)
	if status >= http.StatusInternalServerError {
		s.log.Errorf("[%s] %s %s: %v", chimiddleware.GetReqID(r.Context()), r.Method, r.URL.Path, err)
	} else {
		s.log.Debugf("[%s] %s %s: %v", chimiddleware.GetReqID(r.Context()), r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorBody{Code: de.Code, Error: de.Message})
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Code: code, Error: message})
}
