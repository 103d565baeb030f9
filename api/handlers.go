package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jmcleod/ironkeep/auth"
	"github.com/jmcleod/ironkeep/credentials"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return false
	}
	return true
}

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	if ok, retryAfter := a.ipLimiter.allow(a.extractClientIP(r)); !ok {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip_limit")
		writeRateLimited(w, retryAfter)
		return
	}

	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	username := credentials.CanonicalUsername(req.Username)
	if blocked, retryAfter := a.accountLimiter.check(username); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "account_locked", slog.String("username", username))
		writeRateLimited(w, retryAfter)
		return
	}

	sess, err := a.auth.Login(r.Context(), username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			a.accountLimiter.recordFailure(username)
			a.audit.logFailure(AuditLoginFailure, r, "invalid_credentials", slog.String("username", username))
		} else {
			a.audit.logFailure(AuditLoginFailure, r, "error", slog.String("username", username))
		}
		a.mapError(w, r, err)
		return
	}

	a.accountLimiter.recordSuccess(username)
	a.audit.logEvent(AuditLoginSuccess, r, sess.UserID, slog.String("session_id", sess.SessionID))
	writeJSON(w, http.StatusOK, LoginResponse{
		Message:   "Login successful",
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Logout handles POST /auth/logout. The session key is discarded.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	a.auth.Logout(id.UserID)
	a.audit.logEvent(AuditLogout, r, id.UserID, slog.String("session_id", id.SessionID))
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}

// EncryptKeychain handles POST /keychain.
func (a *API) EncryptKeychain(w http.ResponseWriter, r *http.Request) {
	var req KeychainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.KeychainData == "" {
		writeError(w, http.StatusBadRequest, "No keychain data provided.")
		return
	}

	id, _ := identityFromContext(r.Context())
	item, err := a.auth.EncryptItem(id.UserID, req.KeychainData)
	if err != nil {
		a.audit.logEvent(AuditKeychainFailure, r, id.UserID, slog.String("op", "encrypt"))
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditKeychainEncrypt, r, id.UserID)
	writeJSON(w, http.StatusOK, KeychainResponse{
		Message: "Keychain data encrypted",
		Item:    item,
	})
}

// DecryptKeychain handles POST /keychain/decrypt.
func (a *API) DecryptKeychain(w http.ResponseWriter, r *http.Request) {
	var req DecryptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Item == "" {
		writeError(w, http.StatusBadRequest, "No keychain item provided.")
		return
	}

	id, _ := identityFromContext(r.Context())
	plain, err := a.auth.DecryptItem(id.UserID, req.Item)
	if err != nil {
		a.audit.logEvent(AuditKeychainFailure, r, id.UserID, slog.String("op", "decrypt"))
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditKeychainDecrypt, r, id.UserID)
	writeJSON(w, http.StatusOK, DecryptResponse{
		Message:      "Keychain data decrypted",
		KeychainData: plain,
	})
}

// ListFiles handles GET /files. OS errors are logged, never returned.
func (a *API) ListFiles(w http.ResponseWriter, r *http.Request) {
	if a.filesDir == "" {
		writeError(w, http.StatusNotFound, "Secure data directory not found on server.")
		return
	}
	entries, err := os.ReadDir(a.filesDir)
	if err != nil {
		a.logger.ErrorContext(r.Context(), "reading files directory", "dir", a.filesDir, "error", err)
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "Secure data directory not found on server.")
			return
		}
		writeError(w, http.StatusInternalServerError, "Error accessing files.")
		return
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		files = append(files, e.Name())
	}
	writeJSON(w, http.StatusOK, FilesResponse{
		Message: "Files retrieved successfully",
		Files:   files,
	})
}
