// Auth handlers: login (rate limited at the router) and token verify.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/httputil"
	"github.com/yanizio/platformx/internal/requestinfo"
)

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, r, apperr.Invalid("malformed JSON body"))
		return
	}

	token, err := s.Auth.Login(body.Username, body.Password)
	if err != nil {
		info := requestinfo.FromContext(r.Context())
		zap.L().Warn("login rejected",
			zap.String("username", body.Username),
			zap.String("ip", info.IP),
			zap.String("ua", info.UA.Browser),
			zap.String("country", info.Country),
		)
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"token": token})
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		httputil.Error(w, r, apperr.Unauthorized("missing bearer token"))
		return
	}
	subject, err := s.Auth.Verify(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"subject": subject, "valid": true})
}
