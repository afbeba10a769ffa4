// Package authtest runs an in-process stand-in for the FileFortress
// authentication API. It mirrors the server's routes, status codes and error
// bodies closely enough to drive the client end to end in tests.
package authtest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

const (
	issuer         = "FileFortress"
	sessionName    = "sessionid"
	accessTTL      = 5 * time.Minute
	refreshTTL     = 24 * time.Hour
	pendingSecret  = "pending_secret"
	pendingPayload = "pending_payload"
)

// User is an account known to the fake server.
type User struct {
	ID        int64
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
	// MFADisabled makes login return tokens directly.
	MFADisabled bool

	hash        []byte
	secret      string
	setupSecret string
}

// Server is the fake API. URL is the base path clients should use.
type Server struct {
	URL string

	srv     *httptest.Server
	signKey []byte
	cookies *sessions.CookieStore

	mu     sync.Mutex
	users  map[int64]*User
	nextID int64
	calls  map[string]int
	holds  map[string]chan struct{}
}

// NewServer starts a fake API that stops when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()
	s := &Server{
		signKey: []byte(uuid.NewString()),
		cookies: sessions.NewCookieStore([]byte(uuid.NewString())),
		users:   make(map[int64]*User),
		nextID:  1,
		calls:   make(map[string]int),
		holds:   make(map[string]chan struct{}),
	}
	s.cookies.Options = &sessions.Options{Path: "/", HttpOnly: true, MaxAge: 600}

	r := mux.NewRouter()
	r.Use(s.count)
	api := r.PathPrefix("/api/auth").Subrouter()
	api.HandleFunc("/register/", s.register).Methods(http.MethodPost)
	api.HandleFunc("/complete_registration/", s.completeRegistration).Methods(http.MethodPost)
	api.HandleFunc("/login/", s.login).Methods(http.MethodPost)
	api.HandleFunc("/verify_mfa/", s.verifyMFA).Methods(http.MethodPost)
	api.HandleFunc("/me/", s.authenticated(s.me)).Methods(http.MethodGet)
	api.HandleFunc("/initiate_mfa/", s.authenticated(s.initiateMFA)).Methods(http.MethodGet)
	api.HandleFunc("/verify_mfa_setup/", s.authenticated(s.verifyMFASetup)).Methods(http.MethodPost)

	s.srv = httptest.NewServer(r)
	s.URL = s.srv.URL + "/api"
	tb.Cleanup(s.Close)
	return s
}

// Close stops the server and releases held requests.
func (s *Server) Close() {
	s.mu.Lock()
	for path, ch := range s.holds {
		close(ch)
		delete(s.holds, path)
	}
	s.mu.Unlock()
	s.srv.Close()
}

// AddUser registers an account directly and returns its id and TOTP secret.
func (s *Server) AddUser(u User) (int64, string) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: issuer, AccountName: u.Email})
	if err != nil {
		panic(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	if u.Role == "" {
		u.Role = "user"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.nextID
	s.nextID++
	u.hash = hash
	u.secret = key.Secret()
	s.users[u.ID] = &u
	return u.ID, u.secret
}

// UserByEmail returns a copy of a stored account.
func (s *Server) UserByEmail(email string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return *u, true
		}
	}
	return User{}, false
}

// Code returns the current TOTP code for secret.
func Code(secret string) string {
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		panic(err)
	}
	return code
}

// Calls returns how many requests reached path, e.g. "/api/auth/login/".
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// Hold makes requests to path block until release is called.
func (s *Server) Hold(path string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holds[path] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.holds[path] == ch {
				delete(s.holds, path)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		hold := s.holds[r.URL.Path]
		s.mu.Unlock()
		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func fail(w http.ResponseWriter, status int, msg, detail string) {
	body := map[string]any{"error": msg}
	if detail != "" {
		body["detail"] = detail
	}
	writeJSON(w, status, body)
}

type registration struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}

	fields := map[string][]string{}
	if strings.TrimSpace(req.FirstName) == "" {
		fields["first_name"] = []string{"This field may not be blank."}
	}
	if strings.TrimSpace(req.LastName) == "" {
		fields["last_name"] = []string{"This field may not be blank."}
	}
	if !strings.Contains(req.Email, "@") {
		fields["email"] = []string{"Enter a valid email address."}
	}
	if req.Password == "" {
		fields["password"] = []string{"This field may not be blank."}
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Validation failed", "fields": fields})
		return
	}
	if _, exists := s.UserByEmail(req.Email); exists {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Email already registered", "field": "email"})
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{Issuer: issuer, AccountName: req.Email})
	if err != nil {
		fail(w, http.StatusInternalServerError, "Registration failed", err.Error())
		return
	}
	img, err := key.Image(200, 200)
	if err != nil {
		fail(w, http.StatusInternalServerError, "Registration failed", err.Error())
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		fail(w, http.StatusInternalServerError, "Registration failed", err.Error())
		return
	}

	payload, _ := json.Marshal(req)
	sess, _ := s.cookies.Get(r, sessionName)
	sess.Values[pendingSecret] = key.Secret()
	sess.Values[pendingPayload] = string(payload)
	if err := sess.Save(r, w); err != nil {
		fail(w, http.StatusInternalServerError, "Registration failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mfa_qr_code": base64.StdEncoding.EncodeToString(buf.Bytes()),
		"mfa_secret":  key.Secret(),
		"message":     "Please complete MFA setup",
	})
}

type tokenBody struct {
	Token  string          `json:"token"`
	UserID json.RawMessage `json:"user_id"`
}

func (s *Server) completeRegistration(w http.ResponseWriter, r *http.Request) {
	var req tokenBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	sess, _ := s.cookies.Get(r, sessionName)
	secret, _ := sess.Values[pendingSecret].(string)
	payload, _ := sess.Values[pendingPayload].(string)
	if secret == "" || payload == "" {
		fail(w, http.StatusBadRequest, "No pending registration found", "Session may have expired")
		return
	}
	if !totp.Validate(req.Token, secret) {
		fail(w, http.StatusBadRequest, "Invalid MFA token", "Please check your authenticator app")
		return
	}

	var reg registration
	if err := json.Unmarshal([]byte(payload), &reg); err != nil {
		fail(w, http.StatusInternalServerError, "Failed to create user", err.Error())
		return
	}
	id, _ := s.AddUser(User{Email: reg.Email, Password: reg.Password, FirstName: reg.FirstName, LastName: reg.LastName, Role: reg.Role})
	s.mu.Lock()
	s.users[id].secret = secret
	s.mu.Unlock()

	delete(sess.Values, pendingSecret)
	delete(sess.Values, pendingPayload)
	_ = sess.Save(r, w)
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Registration completed successfully"})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Login failed", err.Error())
		return
	}
	u, ok := s.UserByEmail(req.Email)
	if !ok || bcrypt.CompareHashAndPassword(u.hash, []byte(req.Password)) != nil {
		fail(w, http.StatusUnauthorized, "Invalid credentials", "")
		return
	}
	if u.MFADisabled {
		s.grant(w, u)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"require_mfa": true,
		"user_id":     u.ID,
		"message":     "MFA verification required",
	})
}

func (s *Server) verifyMFA(w http.ResponseWriter, r *http.Request) {
	var req tokenBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Missing required fields", err.Error())
		return
	}
	rawID := strings.Trim(string(req.UserID), `"`)
	if rawID == "" || rawID == "null" || req.Token == "" {
		fail(w, http.StatusBadRequest, "Missing required fields", "Both user_id and token are required")
		return
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		fail(w, http.StatusNotFound, "User not found", "Invalid user ID provided")
		return
	}
	s.mu.Lock()
	u, ok := s.users[id]
	var user User
	if ok {
		user = *u
	}
	s.mu.Unlock()
	if !ok {
		fail(w, http.StatusNotFound, "User not found", "Invalid user ID provided")
		return
	}
	if !totp.Validate(req.Token, user.secret) {
		fail(w, http.StatusBadRequest, "Invalid MFA token", "Please check your authenticator app and try again.")
		return
	}
	s.grant(w, user)
}

func (s *Server) grant(w http.ResponseWriter, u User) {
	access, err := s.sign(u, "access", accessTTL)
	if err != nil {
		fail(w, http.StatusInternalServerError, "Verification failed", err.Error())
		return
	}
	refresh, err := s.sign(u, "refresh", refreshTTL)
	if err != nil {
		fail(w, http.StatusInternalServerError, "Verification failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"require_mfa": false,
		"access":      access,
		"refresh":     refresh,
		"user":        userJSON(u),
	})
}

func (s *Server) sign(u User, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"token_type": kind,
		"user_id":    u.ID,
		"jti":        uuid.NewString(),
		"iat":        now.Unix(),
		"exp":        now.Add(ttl).Unix(),
	}).SignedString(s.signKey)
}

func userJSON(u User) map[string]any {
	return map[string]any{
		"id":         u.ID,
		"email":      u.Email,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"role":       u.Role,
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID int64)

func (s *Server) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Authentication credentials were not provided."})
			return
		}
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(*jwt.Token) (any, error) {
			return s.signKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || claims["token_type"] != "access" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Given token not valid for any token type"})
			return
		}
		id, _ := claims["user_id"].(float64)
		next(w, r, int64(id))
	}
}

func (s *Server) me(w http.ResponseWriter, _ *http.Request, userID int64) {
	s.mu.Lock()
	u, ok := s.users[userID]
	var user User
	if ok {
		user = *u
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "User not found"})
		return
	}
	writeJSON(w, http.StatusOK, userJSON(user))
}

func (s *Server) initiateMFA(w http.ResponseWriter, _ *http.Request, userID int64) {
	s.mu.Lock()
	u, ok := s.users[userID]
	email := ""
	if ok {
		email = u.Email
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "User not found"})
		return
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: issuer, AccountName: email})
	if err != nil {
		fail(w, http.StatusInternalServerError, "MFA setup failed", err.Error())
		return
	}
	img, err := key.Image(200, 200)
	if err != nil {
		fail(w, http.StatusInternalServerError, "MFA setup failed", err.Error())
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		fail(w, http.StatusInternalServerError, "MFA setup failed", err.Error())
		return
	}
	s.mu.Lock()
	u.setupSecret = key.Secret()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"qr_code": base64.StdEncoding.EncodeToString(buf.Bytes()),
		"secret":  key.Secret(),
	})
}

// SetupSecret returns the secret issued by the last initiate_mfa call for email.
func (s *Server) SetupSecret(email string) string {
	u, _ := s.UserByEmail(email)
	return u.setupSecret
}

func (s *Server) verifyMFASetup(w http.ResponseWriter, r *http.Request, userID int64) {
	var req tokenBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.setupSecret == "" {
		fail(w, http.StatusBadRequest, "MFA setup not initiated", "")
		return
	}
	if !totp.Validate(req.Token, u.setupSecret) {
		fail(w, http.StatusBadRequest, "Invalid MFA token", "")
		return
	}
	u.secret = u.setupSecret
	u.setupSecret = ""
	writeJSON(w, http.StatusOK, map[string]any{"message": "MFA enabled"})
}
