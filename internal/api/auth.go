// Package api implements the HTTP handlers and helpers of the route
// operations service.
package api

import (
    "net/http"
    "strings"
    "time"

    log "github.com/sirupsen/logrus"

    "wasteroute/internal/auth"
    "wasteroute/internal/model"
)

const sessionCookie = "SESSION"

// sessionToken returns the token from the SESSION cookie or a Bearer header.
func sessionToken(r *http.Request) string {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
        return strings.TrimSpace(authz[len("Bearer "):])
    }
    if c, err := r.Cookie(sessionCookie); err == nil { return c.Value }
    return ""
}

// getPrincipal resolves the caller.
// - A session token (cookie or Bearer) must verify and not be revoked.
// - Else, in dev auth mode, X-User-Id and X-Role headers are trusted.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, bool) {
    if tok := sessionToken(r); tok != "" {
        claims, err := s.Sessions.Parse(tok)
        if err != nil { return auth.Principal{}, false }
        revoked, err := s.Store.IsSessionRevoked(r.Context(), claims.ID)
        if err != nil {
            log.WithError(err).Warn("session revocation lookup failed")
            return auth.Principal{}, false
        }
        if revoked { return auth.Principal{}, false }
        p, err := claims.Principal()
        return p, err == nil
    }
    if s.Config.AuthMode != "dev" { return auth.Principal{}, false }
    return s.devPrincipal(r)
}

func (s *Server) devPrincipal(r *http.Request) (auth.Principal, bool) {
    role := model.Role(strings.ToLower(strings.TrimSpace(r.Header.Get("X-Role"))))
    rawID := strings.TrimSpace(r.Header.Get("X-User-Id"))
    if role == "" && rawID == "" { return auth.Principal{}, false }
    p := auth.Principal{Role: role}
    if rawID != "" {
        id, ok := parseID(rawID)
        if !ok { return auth.Principal{}, false }
        p.UserID = id
        if u, err := s.Store.GetUser(r.Context(), id); err == nil {
            p.Login = u.Login
            if p.Role == "" { p.Role = u.Role }
        }
    }
    return p, p.Role.Valid()
}

// authenticate answers 401 when the request carries no valid identity.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
    p, ok := s.getPrincipal(r)
    if !ok {
        writeProblem(w, http.StatusUnauthorized, "Unauthorized", "login required", r.URL.Path)
        return p, false
    }
    return p, true
}

// requireRole authenticates the caller and checks it holds one of roles.
func (s *Server) requireRole(w http.ResponseWriter, r *http.Request, roles ...model.Role) (auth.Principal, bool) {
    p, ok := s.authenticate(w, r)
    if !ok { return p, false }
    for _, role := range roles {
        if p.Role == role { return p, true }
    }
    names := make([]string, len(roles))
    for i, role := range roles { names[i] = string(role) }
    writeProblem(w, http.StatusForbidden, "Forbidden", strings.Join(names, " or ")+" required", r.URL.Path)
    return p, false
}

type loginRequest struct {
    Login    string `json:"login"`
    Password string `json:"password"`
}

type meResponse struct {
    ID    int64      `json:"id"`
    Login string     `json:"login"`
    Name  string     `json:"name"`
    Role  model.Role `json:"role"`
}

// LoginHandler handles POST /login
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { methodNotAllowed(w, r); return }
    var req loginRequest
    if !decodeJSON(w, r, &req) { return }
    u, err := s.Store.GetUserByLogin(r.Context(), strings.TrimSpace(req.Login))
    if err != nil || !u.Active || !auth.CheckPassword(u.PasswordHash, req.Password) {
        writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid login or password", r.URL.Path)
        return
    }
    tok, claims, err := s.Sessions.Issue(u)
    if err != nil { writeError(w, r, err); return }
    http.SetCookie(w, &http.Cookie{
        Name:     sessionCookie,
        Value:    tok,
        Path:     "/",
        Expires:  claims.ExpiresAt.Time,
        HttpOnly: true,
        SameSite: http.SameSiteLaxMode,
    })
    log.WithFields(log.Fields{"user": u.ID, "role": u.Role}).Info("login")
    writeJSON(w, http.StatusOK, map[string]any{
        "token":     tok,
        "expiresAt": claims.ExpiresAt.Time.UTC(),
        "user":      meResponse{ID: u.ID, Login: u.Login, Name: u.Name, Role: u.Role},
    })
}

// LogoutHandler handles POST /logout. The session id stays revoked until the
// token would have expired anyway.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { methodNotAllowed(w, r); return }
    if tok := sessionToken(r); tok != "" {
        if claims, err := s.Sessions.Parse(tok); err == nil {
            if err := s.Store.RevokeSession(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil { writeError(w, r, err); return }
        }
    }
    http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", Expires: time.Unix(0, 0), MaxAge: -1, HttpOnly: true})
    w.WriteHeader(http.StatusNoContent)
}

// MeHandler handles GET /me
func (s *Server) MeHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { methodNotAllowed(w, r); return }
    p, ok := s.authenticate(w, r)
    if !ok { return }
    out := meResponse{ID: p.UserID, Login: p.Login, Role: p.Role}
    if p.UserID > 0 {
        if u, err := s.Store.GetUser(r.Context(), p.UserID); err == nil {
            out.Login, out.Name = u.Login, u.Name
        }
    }
    writeJSON(w, http.StatusOK, out)
}
