package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pcbrecon-backend/internal/apperr"
	"pcbrecon-backend/internal/database"
	"pcbrecon-backend/internal/gemini"
	"pcbrecon-backend/internal/handlers"
	"pcbrecon-backend/internal/imagedata"
	"pcbrecon-backend/internal/logger"
	"pcbrecon-backend/internal/models"
	"pcbrecon-backend/internal/server"
	"pcbrecon-backend/internal/services"
	"pcbrecon-backend/internal/turnlock"
)

type scriptedInference struct {
	mu    sync.Mutex
	calls int
	reply func() (string, error)
}

func (s *scriptedInference) GenerateContent(ctx context.Context, model string, req *gemini.GenerateRequest) (string, error) {
	s.mu.Lock()
	s.calls++
	reply := s.reply
	s.mu.Unlock()
	if reply == nil {
		return "**Board Overview** A test board.", nil
	}
	return reply()
}

func (s *scriptedInference) setReply(fn func() (string, error)) {
	s.mu.Lock()
	s.reply = fn
	s.mu.Unlock()
}

type testEnv struct {
	router    *gin.Engine
	inference *scriptedInference
	locker    *turnlock.MemoryLocker
}

func newEnv(t *testing.T, authSecret string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Nop()

	store, err := database.NewGormStore(context.Background(), filepath.Join(t.TempDir(), "api.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	inf := &scriptedInference{}
	locker := turnlock.NewMemoryLocker()
	projects := services.NewProjectService(store, inf, nil, services.ProjectServiceConfig{
		AnalysisModel:    "a",
		MaxImageBytes:    imagedata.DefaultMaxBytes,
		InferenceTimeout: time.Second,
	}, log)
	chat := services.NewChatService(store, inf, locker, services.ChatServiceConfig{ChatModel: "c"}, log)

	health := handlers.NewHealthHandler()
	health.RegisterChecker(handlers.NewPingChecker("database", store))

	router := server.NewRouter(server.RouterConfig{
		Log:             log,
		AllowedOrigins:  []string{"http://localhost:3000"},
		AuthJWTSecret:   authSecret,
		ProjectsHandler: handlers.NewProjectsHandler(projects, imagedata.DefaultMaxBytes, log),
		ChatHandler:     handlers.NewChatHandler(chat, log),
		HealthHandler:   health,
	})
	return &testEnv{router: router, inference: inf, locker: locker}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func pngDataURL(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), imaging.PNG))
	return imagedata.EncodeDataURL("image/png", buf.Bytes())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createProject(t *testing.T, e *testEnv, name string) models.ProjectResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/projects", models.CreateProjectRequest{Name: name, ImagePath: "board.png", ImageBase64: pngDataURL(t)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.ProjectResponse](t, w)
}

func TestProjectLifecycle(t *testing.T) {
	e := newEnv(t, "")

	created := createProject(t, e, "Arduino")
	assert.Equal(t, "Arduino", created.Name)
	require.NotNil(t, created.Analysis)
	assert.Equal(t, "**Board Overview** A test board.", *created.Analysis)

	w := e.do(t, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]models.ProjectResponse](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	w = e.do(t, http.MethodPost, "/projects/1/chat", models.ChatRequest{Message: "What is U1?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `"bot"`, string(decode[map[string]json.RawMessage](t, w)["sender"]))

	w = e.do(t, http.MethodGet, "/projects/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	full := decode[models.ProjectWithMessagesResponse](t, w)
	require.Len(t, full.ChatMessages, 2)
	assert.Equal(t, models.SenderUser, full.ChatMessages[0].Sender)
	assert.Equal(t, models.SenderBot, full.ChatMessages[1].Sender)

	w = e.do(t, http.MethodGet, "/projects/1/chat", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.ChatMessageResponse](t, w), 2)

	w = e.do(t, http.MethodDelete, "/projects/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"deleted"}`, w.Body.String())

	w = e.do(t, http.MethodDelete, "/projects/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperr.CodeNotFound, decode[models.ErrorResponse](t, w).Code)

	w = e.do(t, http.MethodGet, "/projects/1/chat", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateProject_AnalysisFailureStillCreates(t *testing.T) {
	e := newEnv(t, "")
	e.inference.setReply(func() (string, error) {
		return "", &apperr.UpstreamError{Service: "gemini", StatusCode: 503, Message: "overloaded"}
	})

	w := e.do(t, http.MethodPost, "/projects", models.CreateProjectRequest{Name: "x", ImageBase64: pngDataURL(t)})

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"analysis":null`)
}

func TestCreateProject_Validation(t *testing.T) {
	e := newEnv(t, "")

	w := e.do(t, http.MethodPost, "/projects", models.CreateProjectRequest{Name: "", ImageBase64: pngDataURL(t)})
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[models.ErrorResponse](t, w)
	assert.Equal(t, apperr.CodeValidationFailed, resp.Code)
	assert.Equal(t, "Please enter a project name", resp.Message)

	req, _ := http.NewRequest(http.MethodPost, "/projects", bytes.NewBufferString("{not json"))
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, e.inference.calls)
}

func TestAnalyzeProject_UpstreamFailureIs502(t *testing.T) {
	e := newEnv(t, "")
	created := createProject(t, e, "x")
	e.inference.setReply(func() (string, error) {
		return "", &apperr.UpstreamError{Service: "gemini", Message: "inference timed out after 1s"}
	})

	w := e.do(t, http.MethodPost, "/projects/1/analysis", nil)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, apperr.CodeUpstreamError, decode[models.ErrorResponse](t, w).Code)

	w = e.do(t, http.MethodGet, "/projects/1", nil)
	assert.Equal(t, *created.Analysis, *decode[models.ProjectWithMessagesResponse](t, w).Analysis)
}

func TestAssessProject(t *testing.T) {
	e := newEnv(t, "")
	createProject(t, e, "x")
	e.inference.setReply(func() (string, error) { return "U1 ESP32-WROOM-32", nil })

	w := e.do(t, http.MethodPost, "/projects/1/assessment", nil)
	require.Equal(t, http.StatusOK, w.Code)
	a := decode[models.AssessmentResponse](t, w)
	assert.Equal(t, int64(1), a.ProjectID)
	assert.Equal(t, "U1 ESP32-WROOM-32", a.Components)
	assert.Contains(t, a.Report, "## 3. Security Analysis")
	assert.False(t, a.GeneratedAt.IsZero())

	w = e.do(t, http.MethodPost, "/projects/9/assessment", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	e.inference.setReply(func() (string, error) {
		return "", &apperr.UpstreamError{Service: "gemini", StatusCode: 503, Message: "overloaded"}
	})
	w = e.do(t, http.MethodPost, "/projects/1/assessment", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, apperr.CodeUpstreamError, decode[models.ErrorResponse](t, w).Code)
}

func TestChat_Errors(t *testing.T) {
	e := newEnv(t, "")
	createProject(t, e, "x")

	w := e.do(t, http.MethodPost, "/projects/abc/chat", models.ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/projects/77/chat", models.ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/projects/1/chat", models.ChatRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/projects/1/chat", models.ChatRequest{Message: strings.Repeat("a", services.MaxMessageLength+1)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperr.CodeValidationFailed, decode[models.ErrorResponse](t, w).Code)

	w = e.do(t, http.MethodPost, "/projects/1/chat", models.ChatRequest{Message: strings.Repeat("a", 128<<10)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperr.CodeValidationFailed, decode[models.ErrorResponse](t, w).Code)

	release, err := e.locker.TryLock(context.Background(), "project:1")
	require.NoError(t, err)
	w = e.do(t, http.MethodPost, "/projects/1/chat", models.ChatRequest{Message: "hi"})
	release()
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperr.CodeTurnInFlight, decode[models.ErrorResponse](t, w).Code)

	e.inference.setReply(func() (string, error) {
		return "", &apperr.NetworkError{Service: "gemini", Err: context.Canceled}
	})
	w = e.do(t, http.MethodPost, "/projects/1/chat", models.ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	netErr := decode[models.ErrorResponse](t, w)
	assert.Equal(t, apperr.CodeNetworkError, netErr.Code)
	assert.Equal(t, "the gemini service could not be reached", netErr.Message)

	w = e.do(t, http.MethodGet, "/projects/1/chat", nil)
	msgs := decode[[]models.ChatMessageResponse](t, w)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.SenderUser, msgs[0].Sender)
}

func TestListProjects_Pagination(t *testing.T) {
	e := newEnv(t, "")
	for _, name := range []string{"a", "b", "c"} {
		createProject(t, e, name)
		time.Sleep(2 * time.Millisecond)
	}

	w := e.do(t, http.MethodGet, "/projects?skip=1&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]models.ProjectResponse](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].Name)

	w = e.do(t, http.MethodGet, "/projects?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndReady(t *testing.T) {
	e := newEnv(t, "")

	w := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = e.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"database":"ok"}}`, w.Body.String())

	w = e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pcbrecon_http_requests_total")
}

func TestAuthProtectsProjects(t *testing.T) {
	const secret = "router-test-secret"
	e := newEnv(t, secret)

	w := e.do(t, http.MethodGet, "/projects", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).SignedString([]byte(secret))
	require.NoError(t, err)
	req, _ := http.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestCORS(t *testing.T) {
	e := newEnv(t, "")

	req, _ := http.NewRequest(http.MethodOptions, "/projects", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
