// Package testbackend runs an in-process imitation of the inventory REST API
// for tests: JWT access/refresh tokens, bcrypt passwords and in-memory
// collections with the same response shapes as the real service.
package testbackend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"inventoryhub/dashboard/internal/auth"
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

type claims struct {
	Type string `json:"type"`
	Gen  int    `json:"gen"`
	jwt.RegisteredClaims
}

type account struct {
	user auth.User
	hash []byte
}

type Backend struct {
	server *httptest.Server
	secret []byte
	now    func() time.Time

	mu          sync.Mutex
	accounts    map[string]*account
	nextUserID  int64
	accessGen   int
	refreshGen  int
	refreshFail int
	refreshHold chan struct{}
	accessTTL   time.Duration
	collections map[string]*collection
	calls       map[string]int
	authHeaders []string
}

type collection struct {
	nextID int64
	items  map[int64]map[string]any
}

func New() *Backend {
	b := &Backend{
		secret:      []byte("testbackend-secret"),
		now:         time.Now,
		accounts:    make(map[string]*account),
		accessTTL:   time.Hour,
		collections: make(map[string]*collection),
		calls:       make(map[string]int),
	}
	for _, name := range []string{"products", "categories", "suppliers", "transactions"} {
		b.collections[name] = &collection{items: make(map[int64]map[string]any)}
	}
	b.server = httptest.NewServer(http.StripPrefix("/api", http.HandlerFunc(b.route)))
	return b
}

func (b *Backend) Close() { b.server.Close() }

// URL is the API base, including the /api prefix.
func (b *Backend) URL() string { return b.server.URL + "/api" }

func (b *Backend) AddUser(username, email, password string, role auth.Role) auth.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, _ := b.addUserLocked(username, email, password, role)
	return u
}

func (b *Backend) addUserLocked(username, email, password string, role auth.Role) (auth.User, error) {
	if _, ok := b.accounts[username]; ok {
		return auth.User{}, errors.New("Username already exists")
	}
	for _, a := range b.accounts {
		if a.user.Email == email {
			return auth.User{}, errors.New("Email already exists")
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return auth.User{}, err
	}
	b.nextUserID++
	u := auth.User{
		ID:        b.nextUserID,
		Username:  username,
		Email:     email,
		Role:      role,
		CreatedAt: auth.Timestamp{Time: b.now().UTC().Truncate(time.Second)},
	}
	b.accounts[username] = &account{user: u, hash: hash}
	return u, nil
}

// Seed inserts a record into a collection and returns its id.
func (b *Backend) Seed(name string, record map[string]any) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insertLocked(name, record)
}

func (b *Backend) insertLocked(name string, record map[string]any) int64 {
	c := b.collections[name]
	c.nextID++
	rec := make(map[string]any, len(record)+2)
	for k, v := range record {
		rec[k] = v
	}
	rec["id"] = c.nextID
	if _, ok := rec["created_at"]; !ok {
		rec["created_at"] = b.now().UTC().Format("2006-01-02T15:04:05.000000")
	}
	c.items[c.nextID] = rec
	return c.nextID
}

// ExpireAccessTokens invalidates every access token issued so far.
func (b *Backend) ExpireAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessGen++
}

// ExpireRefreshTokens invalidates every refresh token issued so far.
func (b *Backend) ExpireRefreshTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshGen++
}

// FailRefresh makes the refresh endpoint answer with status; 0 restores it.
func (b *Backend) FailRefresh(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshFail = status
}

// HoldRefresh blocks refresh calls until the returned func is called.
func (b *Backend) HoldRefresh() (release func()) {
	ch := make(chan struct{})
	b.mu.Lock()
	b.refreshHold = ch
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.refreshHold = nil
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Calls counts requests by "METHOD /path" (path without the /api prefix).
func (b *Backend) Calls(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[key]
}

func (b *Backend) RefreshCalls() int { return b.Calls("POST /auth/refresh") }

func (b *Backend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		n += c
	}
	return n
}

// AuthHeaders returns the Authorization headers seen, in arrival order.
func (b *Backend) AuthHeaders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.authHeaders...)
}

func (b *Backend) issue(username, typ string, gen int, ttl time.Duration) (string, error) {
	now := b.now()
	c := claims{
		Type: typ,
		Gen:  gen,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        strconv.FormatInt(now.UnixNano(), 36),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(b.secret)
}

// verify checks a bearer token of the given type and returns the account.
func (b *Backend) verify(r *http.Request, typ string) (*account, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return nil, false
	}
	var c claims
	tok, err := jwt.ParseWithClaims(strings.TrimPrefix(h, "Bearer "), &c, func(*jwt.Token) (interface{}, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid || c.Type != typ {
		return nil, false
	}
	gen := b.accessGen
	if typ == tokenRefresh {
		gen = b.refreshGen
	}
	if c.Gen != gen {
		return nil, false
	}
	a, ok := b.accounts[c.Subject]
	return a, ok
}

func (b *Backend) route(w http.ResponseWriter, r *http.Request) {
	path := "/" + strings.Trim(r.URL.Path, "/")

	b.mu.Lock()
	b.calls[r.Method+" "+path]++
	b.authHeaders = append(b.authHeaders, r.Header.Get("Authorization"))
	b.mu.Unlock()

	switch path {
	case "/auth/login":
		b.handleLogin(w, r)
		return
	case "/auth/register":
		b.handleRegister(w, r)
		return
	case "/auth/refresh":
		b.handleRefresh(w, r)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok := b.verify(r, tokenAccess)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Token has expired"})
		return
	}

	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch parts[0] {
	case "auth":
		if len(parts) == 2 && parts[1] == "me" && r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, acct.user)
			return
		}
	case "users":
		b.handleUsers(w, r, acct, parts[1:])
		return
	case "products", "categories", "suppliers", "transactions":
		b.handleCollection(w, r, acct, parts[0], parts[1:])
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.accounts[req.Username]
	if !ok || bcrypt.CompareHashAndPassword(a.hash, []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid username or password"})
		return
	}
	access, err := b.issue(a.user.Username, tokenAccess, b.accessGen, b.accessTTL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	refresh, err := b.issue(a.user.Username, tokenRefresh, b.refreshGen, 30*24*time.Hour)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"user":          a.user,
	})
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.Registration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleViewer
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u, err := b.addUserLocked(req.Username, req.Email, req.Password, req.Role)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "User registered successfully", "user": u})
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	hold := b.refreshHold
	b.mu.Unlock()
	if hold != nil {
		<-hold
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refreshFail != 0 {
		writeJSON(w, b.refreshFail, map[string]string{"message": "refresh unavailable"})
		return
	}
	a, ok := b.verify(r, tokenRefresh)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Token has expired"})
		return
	}
	access, err := b.issue(a.user.Username, tokenAccess, b.accessGen, b.accessTTL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": access})
}

func (b *Backend) handleUsers(w http.ResponseWriter, r *http.Request, acct *account, rest []string) {
	if len(rest) == 0 {
		if acct.user.Role != auth.RoleAdmin {
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "Admin access required"})
			return
		}
		out := make([]auth.User, 0, len(b.accounts))
		for _, a := range b.accounts {
			out = append(out, a.user)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		writeJSON(w, http.StatusOK, out)
		return
	}
	id, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "User not found"})
		return
	}
	var target *account
	for _, a := range b.accounts {
		if a.user.ID == id {
			target = a
		}
	}
	if target == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "User not found"})
		return
	}
	if r.Method != http.MethodGet && acct.user.Role != auth.RoleAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "Admin access required"})
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, target.user)
	case http.MethodPut:
		var req struct {
			Username string    `json:"username"`
			Email    string    `json:"email"`
			Role     auth.Role `json:"role"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		delete(b.accounts, target.user.Username)
		if req.Username != "" {
			target.user.Username = req.Username
		}
		if req.Email != "" {
			target.user.Email = req.Email
		}
		if req.Role != "" {
			target.user.Role = req.Role
		}
		b.accounts[target.user.Username] = target
		writeJSON(w, http.StatusOK, target.user)
	case http.MethodDelete:
		delete(b.accounts, target.user.Username)
		writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted successfully"})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "Method not allowed"})
	}
}

func (b *Backend) handleCollection(w http.ResponseWriter, r *http.Request, acct *account, name string, rest []string) {
	c := b.collections[name]
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, b.listLocked(name, nil))
		case http.MethodPost:
			var rec map[string]any
			if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
				return
			}
			if name == "transactions" {
				b.recordTransactionLocked(w, acct, rec)
				return
			}
			id := b.insertLocked(name, rec)
			writeJSON(w, http.StatusCreated, c.items[id])
		default:
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "Method not allowed"})
		}
		return
	}

	if name == "products" && rest[0] == "low-stock" {
		writeJSON(w, http.StatusOK, b.listLocked(name, func(rec map[string]any) bool {
			return number(rec["quantity"]) < threshold(rec)
		}))
		return
	}
	if name == "transactions" && rest[0] == "product" && len(rest) == 2 {
		pid, _ := strconv.ParseInt(rest[1], 10, 64)
		writeJSON(w, http.StatusOK, b.listLocked(name, func(rec map[string]any) bool {
			return int64(number(rec["product_id"])) == pid
		}))
		return
	}

	id, err := strconv.ParseInt(rest[0], 10, 64)
	rec, ok := c.items[id]
	if err != nil || !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": singular(name) + " not found"})
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPut:
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
			return
		}
		for k, v := range patch {
			if k != "id" {
				rec[k] = v
			}
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		delete(c.items, id)
		writeJSON(w, http.StatusOK, map[string]string{"message": singular(name) + " deleted successfully"})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "Method not allowed"})
	}
}

func (b *Backend) recordTransactionLocked(w http.ResponseWriter, acct *account, rec map[string]any) {
	products := b.collections["products"]
	pid := int64(number(rec["product_id"]))
	product, ok := products.items[pid]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Product not found"})
		return
	}
	qty := number(rec["quantity"])
	switch rec["action_type"] {
	case "add":
		product["quantity"] = number(product["quantity"]) + qty
	case "remove":
		if number(product["quantity"]) < qty {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Insufficient stock"})
			return
		}
		product["quantity"] = number(product["quantity"]) - qty
	}
	rec["user_id"] = acct.user.ID
	rec["timestamp"] = b.now().UTC().Format("2006-01-02T15:04:05.000000")
	id := b.insertLocked("transactions", rec)
	writeJSON(w, http.StatusCreated, b.collections["transactions"].items[id])
}

// listLocked returns records ordered by id; transactions newest first.
func (b *Backend) listLocked(name string, keep func(map[string]any) bool) []map[string]any {
	c := b.collections[name]
	out := make([]map[string]any, 0, len(c.items))
	for _, rec := range c.items {
		if keep == nil || keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if name == "transactions" {
			return number(out[i]["id"]) > number(out[j]["id"])
		}
		return number(out[i]["id"]) < number(out[j]["id"])
	})
	return out
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

func threshold(rec map[string]any) float64 {
	if _, ok := rec["low_stock_threshold"]; !ok {
		return 10
	}
	return number(rec["low_stock_threshold"])
}

func singular(name string) string {
	s := strings.TrimSuffix(name, "s")
	if name == "categories" {
		s = "category"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// String describes the backend for test failure messages.
func (b *Backend) String() string {
	return fmt.Sprintf("testbackend(%s)", b.URL())
}
