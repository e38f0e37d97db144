package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ikkim/account-backend/config"
	"github.com/ikkim/account-backend/internal/app/controller"
	"github.com/ikkim/account-backend/internal/app/repository"
	"github.com/ikkim/account-backend/internal/app/service"
	"github.com/ikkim/account-backend/internal/db"
	apperrors "github.com/ikkim/account-backend/internal/errors"
	"github.com/ikkim/account-backend/internal/middleware"
	"github.com/ikkim/account-backend/internal/storage"
	"github.com/ikkim/account-backend/pkg/mailer"
	"github.com/ikkim/account-backend/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const frontBaseURL = "http://localhost:3000"

type testServer struct {
	engine *gin.Engine
	mail   *mailer.Recorder
}

type fakePresigner struct{}

func (fakePresigner) PresignProfileImage(_ context.Context, filename, contentType string) (*storage.PresignedURLResponse, error) {
	if err := storage.ValidateContentType(contentType, storage.ProfileImageTypes); err != nil {
		return nil, err
	}
	return &storage.PresignedURLResponse{
		UploadURL: "https://bucket.example.com/upload?sig=1",
		FileURL:   "https://cdn.example.com/profile-images/" + filename,
		Key:       "profile-images/" + filename,
	}, nil
}

func setupRouterTest(t *testing.T) *testServer {
	return setupRouterTestWithUploads(t, controller.NewUploadController(fakePresigner{}))
}

func setupRouterTestWithUploads(t *testing.T, uploads *controller.UploadController) *testServer {
	testDB, err := db.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.CleanupTestDB(testDB) })

	cfg := &config.Config{
		Server: config.ServerConfig{GinMode: gin.TestMode},
		CORS:   config.CORSConfig{AllowedOrigins: []string{frontBaseURL}},
	}

	issuer, err := util.NewSessionIssuer("router-test-secret", 24*time.Hour)
	require.NoError(t, err)

	userRepo := repository.NewUserRepository(testDB)
	codeRepo := repository.NewEmailCodeRepository(testDB)
	rec := mailer.NewRecorder()

	accountService, err := service.NewAccountService(testDB, userRepo, codeRepo, rec, issuer, service.AccountOptions{
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	userService := service.NewUserService(userRepo, nil)

	r := NewRouter(
		controller.NewUserController(accountService, userService),
		uploads,
		middleware.NewAuthMiddleware(issuer, userService),
		cfg,
	)
	return &testServer{engine: r.Setup(), mail: rec}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

var linkPattern = regexp.MustCompile(`/(verify_email|reset_password)/([0-9a-f]{128})`)

func (s *testServer) lastCode(t *testing.T) string {
	t.Helper()
	msg, ok := s.mail.Last()
	require.True(t, ok)
	m := linkPattern.FindStringSubmatch(msg.HTML)
	require.Len(t, m, 3)
	return m[2]
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func registerAlice(t *testing.T, s *testServer) map[string]interface{} {
	t.Helper()
	w := s.do(t, http.MethodPost, "/users", gin.H{
		"email":        "alice@example.com",
		"password":     "s3cret!",
		"firstName":    "Alice",
		"lastName":     "Liddell",
		"country":      "UK",
		"frontBaseUrl": frontBaseURL,
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var user map[string]interface{}
	decode(t, w, &user)
	return user
}

func loginAlice(t *testing.T, s *testServer, password string) *httptest.ResponseRecorder {
	return s.do(t, http.MethodPost, "/users/login", gin.H{"email": "alice@example.com", "password": password}, "")
}

func verifiedAliceToken(t *testing.T, s *testServer) string {
	t.Helper()
	registerAlice(t, s)
	w := s.do(t, http.MethodGet, "/users/verify/"+s.lastCode(t), nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = loginAlice(t, s, "s3cret!")
	require.Equal(t, http.StatusOK, w.Code)
	var result struct {
		Token string `json:"token"`
	}
	decode(t, w, &result)
	return result.Token
}

func TestHealth(t *testing.T) {
	s := setupRouterTest(t)
	w := s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegister_NeverExposesPassword(t *testing.T) {
	s := setupRouterTest(t)

	user := registerAlice(t, s)
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, false, user["isVerified"])
	assert.NotContains(t, user, "password")

	msg, ok := s.mail.Last()
	require.True(t, ok)
	assert.Equal(t, "Account verification", msg.Subject)
	assert.Contains(t, msg.HTML, frontBaseURL+"/verify_email/")
}

func TestRegister_BadRequests(t *testing.T) {
	s := setupRouterTest(t)
	registerAlice(t, s)

	tests := []struct {
		name     string
		body     gin.H
		wantCode string
	}{
		{
			name:     "Duplicate email",
			body:     gin.H{"email": "alice@example.com", "password": "x", "firstName": "A", "lastName": "B", "frontBaseUrl": frontBaseURL},
			wantCode: apperrors.AuthEmailAlreadyExists,
		},
		{
			name:     "Missing first name",
			body:     gin.H{"email": "bob@example.com", "password": "x", "lastName": "B", "frontBaseUrl": frontBaseURL},
			wantCode: apperrors.ValidationInvalidInput,
		},
		{
			name:     "Invalid email",
			body:     gin.H{"email": "bob", "password": "x", "firstName": "A", "lastName": "B", "frontBaseUrl": frontBaseURL},
			wantCode: apperrors.ValidationInvalidInput,
		},
		{
			name:     "Password longer than 72 characters",
			body:     gin.H{"email": "bob@example.com", "password": strings.Repeat("a", 80), "firstName": "A", "lastName": "B", "frontBaseUrl": frontBaseURL},
			wantCode: apperrors.ValidationInvalidInput,
		},
		{
			name:     "Multibyte password over 72 bytes",
			body:     gin.H{"email": "bob@example.com", "password": strings.Repeat("€", 30), "firstName": "A", "lastName": "B", "frontBaseUrl": frontBaseURL},
			wantCode: apperrors.ValidationInvalidInput,
		},
		{
			name:     "Missing front base url",
			body:     gin.H{"email": "bob@example.com", "password": "x", "firstName": "A", "lastName": "B"},
			wantCode: apperrors.ValidationInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/users", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var body apperrors.ErrorResponse
			decode(t, w, &body)
			assert.Equal(t, tt.wantCode, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestVerifyEmailScenario(t *testing.T) {
	s := setupRouterTest(t)
	registerAlice(t, s)
	code := s.lastCode(t)

	w := s.do(t, http.MethodGet, "/users/verify/"+code, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var user map[string]interface{}
	decode(t, w, &user)
	assert.Equal(t, true, user["isVerified"])

	w = s.do(t, http.MethodGet, "/users/verify/"+code, nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginScenario(t *testing.T) {
	s := setupRouterTest(t)
	registerAlice(t, s)

	unverified := loginAlice(t, s, "s3cret!")
	assert.Equal(t, http.StatusUnauthorized, unverified.Code)

	w := s.do(t, http.MethodGet, "/users/verify/"+s.lastCode(t), nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	wrongPassword := loginAlice(t, s, "nope")
	unknown := s.do(t, http.MethodPost, "/users/login", gin.H{"email": "nobody@example.com", "password": "s3cret!"}, "")

	// all three failures look the same to the client
	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.JSONEq(t, unverified.Body.String(), wrongPassword.Body.String())
	assert.JSONEq(t, unverified.Body.String(), unknown.Body.String())

	w = loginAlice(t, s, "s3cret!")
	require.Equal(t, http.StatusOK, w.Code)

	var result struct {
		User  map[string]interface{} `json:"user"`
		Token string                 `json:"token"`
	}
	decode(t, w, &result)
	assert.Equal(t, "alice@example.com", result.User["email"])
	assert.NotContains(t, result.User, "password")

	parts := strings.Split(result.Token, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(payload, &claims))
	assert.Equal(t, "alice@example.com", claims.User.Email)
}

func TestPasswordResetScenario(t *testing.T) {
	s := setupRouterTest(t)
	verifiedAliceToken(t, s)

	w := s.do(t, http.MethodPost, "/users/reset_password", gin.H{"email": "nobody@example.com", "frontBaseUrl": frontBaseURL}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/users/reset_password", gin.H{"email": "alice@example.com", "frontBaseUrl": frontBaseURL}, "")
	require.Equal(t, http.StatusOK, w.Code)
	msg, _ := s.mail.Last()
	assert.Equal(t, "Password reset request", msg.Subject)
	code := s.lastCode(t)

	w = s.do(t, http.MethodPost, "/users/reset_password/"+code, gin.H{}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, long := range []string{strings.Repeat("a", 80), strings.Repeat("€", 30)} {
		w = s.do(t, http.MethodPost, "/users/reset_password/"+code, gin.H{"password": long}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var body apperrors.ErrorResponse
		decode(t, w, &body)
		assert.Equal(t, apperrors.ValidationInvalidInput, body.Error)
	}

	w = s.do(t, http.MethodPost, "/users/reset_password/"+code, gin.H{"password": "n3w-pass"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	var user map[string]interface{}
	decode(t, w, &user)
	assert.Equal(t, "alice@example.com", user["email"])

	w = s.do(t, http.MethodPost, "/users/reset_password/"+code, gin.H{"password": "again"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, http.StatusUnauthorized, loginAlice(t, s, "s3cret!").Code)
	assert.Equal(t, http.StatusOK, loginAlice(t, s, "n3w-pass").Code)
}

func TestProtectedRoutes(t *testing.T) {
	s := setupRouterTest(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/users"},
		{http.MethodGet, "/users/me"},
		{http.MethodGet, "/users/1"},
		{http.MethodPut, "/users/1"},
		{http.MethodDelete, "/users/1"},
		{http.MethodPost, "/uploads/profile-image"},
	} {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			w := s.do(t, route.method, route.path, nil, "")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestUserCRUD(t *testing.T) {
	s := setupRouterTest(t)
	token := verifiedAliceToken(t, s)

	w := s.do(t, http.MethodGet, "/users/me", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var me map[string]interface{}
	decode(t, w, &me)
	id := uint(me["id"].(float64))

	w = s.do(t, http.MethodGet, "/users", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]interface{}
	decode(t, w, &list)
	assert.Len(t, list, 1)

	w = s.do(t, http.MethodGet, "/users/abc", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/users/9999", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPut, fmt.Sprintf("/users/%d", id), gin.H{"country": "Chile", "email": "hijack@example.com"}, token)
	require.Equal(t, http.StatusOK, w.Code)
	var updated map[string]interface{}
	decode(t, w, &updated)
	assert.Equal(t, "Chile", updated["country"])
	assert.Equal(t, "alice@example.com", updated["email"])

	w = s.do(t, http.MethodPut, "/users/9999", gin.H{"country": "Peru"}, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/uploads/profile-image", gin.H{"filename": "me.png", "contentType": "image/png"}, token)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/uploads/profile-image", gin.H{"filename": "cv.pdf", "contentType": "application/pdf"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodDelete, "/users/9999", nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/users", gin.H{
		"email": "bob@example.com", "password": "pw", "firstName": "Bob", "lastName": "Builder", "frontBaseUrl": frontBaseURL,
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var bob map[string]interface{}
	decode(t, w, &bob)
	bobPath := fmt.Sprintf("/users/%d", uint(bob["id"].(float64)))

	w = s.do(t, http.MethodDelete, bobPath, nil, token)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodDelete, bobPath, nil, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, fmt.Sprintf("/users/%d", id), nil, token)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// the token outlives the user but no longer authenticates
	w = s.do(t, http.MethodDelete, fmt.Sprintf("/users/%d", id), nil, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadsDisabledWithoutStorage(t *testing.T) {
	s := setupRouterTestWithUploads(t, nil)
	token := verifiedAliceToken(t, s)

	w := s.do(t, http.MethodPost, "/uploads/profile-image", gin.H{"filename": "me.png", "contentType": "image/png"}, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS(t *testing.T) {
	s := setupRouterTest(t)

	req := httptest.NewRequest(http.MethodOptions, "/users", nil)
	req.Header.Set("Origin", frontBaseURL)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, frontBaseURL, w.Header().Get("Access-Control-Allow-Origin"))
}
