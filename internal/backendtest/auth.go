package backendtest

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MFACode is the only TOTP code the fake accepts.
const MFACode = "123456"

func authError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": description})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/auth/v1/")
	if f := s.enter("auth:" + strings.SplitN(path, "/", 2)[0]); f != nil {
		f.write(w)
		return
	}
	switch {
	case path == "token" && r.Method == http.MethodPost:
		s.handleToken(w, r)
	case path == "recover" && r.Method == http.MethodPost:
		var body struct {
			Email string `json:"email"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.recovered = append(s.recovered, body.Email)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{})
	default:
		uid, ok := s.caller(r)
		if !ok || uid == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"code": 401, "msg": "invalid JWT: unable to parse or verify signature"})
			return
		}
		s.handleUserAuth(w, r, uid, path)
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	var u *user
	switch r.URL.Query().Get("grant_type") {
	case "password":
		for _, c := range s.users {
			if c.email == body["email"] && c.password == body["password"] {
				u = c
			}
		}
		if u == nil {
			authError(w, http.StatusBadRequest, "invalid_grant", "Invalid login credentials")
			return
		}
	case "refresh_token":
		uid, ok := s.refresh[body["refresh_token"]]
		if !ok {
			authError(w, http.StatusBadRequest, "invalid_grant", "Invalid Refresh Token: Refresh Token Not Found")
			return
		}
		delete(s.refresh, body["refresh_token"])
		u = s.users[uid]
	case "pkce":
		uid, ok := s.authCodes[body["auth_code"]]
		if !ok || body["code_verifier"] == "" {
			authError(w, http.StatusBadRequest, "invalid_grant", "invalid flow state, no valid flow state found")
			return
		}
		delete(s.authCodes, body["auth_code"])
		u = s.users[uid]
	default:
		authError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant type")
		return
	}
	writeJSON(w, http.StatusOK, s.sessionLocked(u))
}

func (s *Server) sessionLocked(u *user) map[string]interface{} {
	rt := uuid.NewString()
	s.refresh[rt] = u.id
	ttl := s.TokenTTL
	access := s.signLocked(u.id, ttl)
	return map[string]interface{}{
		"access_token":  access,
		"refresh_token": rt,
		"token_type":    "bearer",
		"expires_in":    int64(ttl / time.Second),
		"expires_at":    time.Now().Add(ttl).Unix(),
		"user":          userJSON(u),
	}
}

func userJSON(u *user) map[string]interface{} {
	factors := make([]map[string]string, 0, len(u.factors))
	for _, f := range u.factors {
		factors = append(factors, map[string]string{"id": f["id"], "factor_type": "totp", "status": f["status"], "friendly_name": f["friendly_name"]})
	}
	return map[string]interface{}{
		"id":            u.id,
		"email":         u.email,
		"role":          "authenticated",
		"user_metadata": u.meta,
		"app_metadata":  u.appMeta,
		"factors":       factors,
	}
}

func (s *Server) handleUserAuth(w http.ResponseWriter, r *http.Request, uid, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[uid]
	if u == nil {
		authError(w, http.StatusNotFound, "user_not_found", "User not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case path == "user" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, userJSON(u))
	case path == "user" && r.Method == http.MethodPut:
		var attrs struct {
			Email    string                 `json:"email"`
			Password string                 `json:"password"`
			Data     map[string]interface{} `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&attrs)
		if attrs.Password != "" && len(attrs.Password) < 6 {
			authError(w, http.StatusUnprocessableEntity, "weak_password", "Password should be at least 6 characters")
			return
		}
		if attrs.Email != "" {
			u.email = attrs.Email
		}
		if attrs.Password != "" {
			u.password = attrs.Password
		}
		for k, v := range attrs.Data {
			u.meta[k] = v
		}
		writeJSON(w, http.StatusOK, userJSON(u))
	case path == "logout":
		for rt, id := range s.refresh {
			if id == uid {
				delete(s.refresh, rt)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	case path == "factors" && r.Method == http.MethodPost:
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		id := uuid.NewString()
		u.factors = append(u.factors, map[string]string{"id": id, "status": "unverified", "friendly_name": body["friendly_name"]})
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id": id, "type": "totp",
			"totp": map[string]string{
				"qr_code": "data:image/svg+xml;utf-8,<svg/>",
				"secret":  "JBSWY3DPEHPK3PXP",
				"uri":     "otpauth://totp/fgcmatch:" + u.email + "?secret=JBSWY3DPEHPK3PXP",
			},
		})
	case len(parts) == 3 && parts[0] == "factors" && parts[2] == "challenge":
		if factorOf(u, parts[1]) == nil {
			authError(w, http.StatusNotFound, "mfa_factor_not_found", "Factor not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": uuid.NewString(), "expires_at": time.Now().Add(5 * time.Minute).Unix()})
	case len(parts) == 3 && parts[0] == "factors" && parts[2] == "verify":
		f := factorOf(u, parts[1])
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if f == nil || body["code"] != MFACode {
			authError(w, http.StatusUnprocessableEntity, "mfa_verification_failed", "Invalid TOTP code entered")
			return
		}
		f["status"] = "verified"
		writeJSON(w, http.StatusOK, s.sessionLocked(u))
	case len(parts) == 2 && parts[0] == "factors" && r.Method == http.MethodDelete:
		kept := u.factors[:0]
		for _, f := range u.factors {
			if f["id"] != parts[1] {
				kept = append(kept, f)
			}
		}
		u.factors = kept
		writeJSON(w, http.StatusOK, map[string]string{"id": parts[1]})
	default:
		authError(w, http.StatusNotFound, "not_found", "no route")
	}
}

func factorOf(u *user, id string) map[string]string {
	for _, f := range u.factors {
		if f["id"] == id {
			return f
		}
	}
	return nil
}
