package testutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/medchain-server/internal/api"
	"github.com/rongwang/medchain-server/internal/models"
	"github.com/rongwang/medchain-server/internal/repository"
	"github.com/rongwang/medchain-server/internal/service"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret = "test-secret-key"

	// TestPassword is used for every identity created through SignUpAndLogin
	TestPassword = "Password123"
)

// TestContext holds all dependencies for tests
type TestContext struct {
	Router     *gin.Engine
	Repository repository.Repository
	Service    *service.DefaultService
	JWTSecret  []byte
}

// TestUser is an identity created through the API together with its token
type TestUser struct {
	ID    string
	Email string
	Name  string
	Role  models.Role
	Token string
}

// SetupTestContext wires the full stack over an in-memory LevelDB store
func SetupTestContext(t *testing.T) *TestContext {
	t.Helper()

	repo, err := repository.OpenMemLevelDB()
	require.NoError(t, err, "Failed to open in-memory store")

	svc := service.NewDefaultService(repo, service.Options{JWTSecret: testJWTSecret})
	handler := api.NewHandler(svc, testJWTSecret, nil)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler.SetupRoutes(router)

	return &TestContext{
		Router:     router,
		Repository: repo,
		Service:    svc,
		JWTSecret:  []byte(testJWTSecret),
	}
}

// CleanupTestContext releases test resources
func CleanupTestContext(t *TestContext) {
	if t.Repository != nil {
		t.Repository.Close()
	}
}

// SignUpAndLogin registers an identity with a password and returns it with a token
func SignUpAndLogin(t *testing.T, tc *TestContext, name, email string, role models.Role) TestUser {
	t.Helper()

	w := PerformRequest(tc.Router, http.MethodPost, "/api/auth/signup", models.SignUpRequest{
		Name:     name,
		Email:    email,
		Role:     role,
		Password: TestPassword,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = PerformRequest(tc.Router, http.MethodPost, "/api/auth/login", models.LoginRequest{
		Email:    email,
		Password: TestPassword,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.AuthResponse
	DecodeJSON(t, w, &resp)
	require.NotEmpty(t, resp.Token)

	return TestUser{
		ID:    resp.UserID,
		Email: resp.Email,
		Name:  resp.Name,
		Role:  resp.Role,
		Token: resp.Token,
	}
}

// PerformRequest executes an HTTP request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer

	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// PerformMultipart posts form fields and an optional file as multipart/form-data
func PerformMultipart(r http.Handler, path string, fields map[string]string, fileName string, fileData []byte, headers map[string]string) *httptest.ResponseRecorder {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if fileName != "" {
		fw, _ := mw.CreateFormFile("file", fileName)
		_, _ = fw.Write(fileData)
	}
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// DecodeJSON unmarshals a recorded response body
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

// AuthHeaders returns headers with Authorization token
func AuthHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}
}
