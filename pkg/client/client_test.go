package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeAPI serves an in-memory project with a chat transcript.
type fakeAPI struct {
	mu       sync.Mutex
	messages []ChatMessage
	nextID   int64
	calls    atomic.Int32
	failNext bool
	block    chan struct{}
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/projects/1/chat", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, f.messages)
			return
		}

		f.calls.Add(1)
		var body struct {
			Message string `json:"message"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if f.block != nil {
			f.mu.Unlock()
			<-f.block
			f.mu.Lock()
		}

		f.nextID++
		f.messages = append(f.messages, ChatMessage{ID: f.nextID, ProjectID: 1, Sender: SenderUser, Message: body.Message})
		if f.failNext {
			f.failNext = false
			writeJSON(w, http.StatusBadGateway, errorBody{Error: "upstream_error", Message: "model unavailable", Code: CodeUpstreamError})
			return
		}
		f.nextID++
		reply := ChatMessage{ID: f.nextID, ProjectID: 1, Sender: SenderBot, Message: "re: " + body.Message}
		f.messages = append(f.messages, reply)
		writeJSON(w, http.StatusOK, reply)
	})
	mux.HandleFunc("/projects/404/chat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "project 404 not found", Code: CodeNotFound})
	})
	return mux
}

func TestClient_ListProjects(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, []Project{{ID: 2, Name: "b"}, {ID: 1, Name: "a"}})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithToken("tok"))
	projects, err := c.ListProjects(context.Background(), 10, 5)
	require.NoError(t, err)

	assert.Len(t, projects, 2)
	assert.Equal(t, int64(2), projects[0].ID)
	assert.Equal(t, "limit=5&skip=10", gotQuery)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestClient_AssessProject(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		writeJSON(w, http.StatusOK, Assessment{ProjectID: 3, Components: "U1", Report: "# PCB Analysis Report: a"})
	}))
	defer srv.Close()

	a, err := New(srv.URL).AssessProject(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/projects/3/assessment", gotPath)
	assert.Equal(t, "U1", a.Components)
	assert.Equal(t, "# PCB Analysis Report: a", a.Report)
}

func TestClient_CreateProject(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/projects", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusCreated, Project{ID: 7, Name: body["name"], ImagePath: body["image_path"]})
	}))
	defer srv.Close()

	c := New(srv.URL)
	p, err := c.CreateProject(context.Background(), "  Router board ", "/tmp/scans/board.png", pngBytes(t))
	require.NoError(t, err)

	assert.Equal(t, int64(7), p.ID)
	assert.Equal(t, "Router board", body["name"])
	assert.Equal(t, "board.png", body["image_path"])
	assert.True(t, strings.HasPrefix(body["image_base64"], "data:image/png;base64,"))
}

func TestClient_CreateProject_LocalValidation(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := New(srv.URL, WithMaxImageBytes(1024), WithMaxImagePixels(10))
	tooBig := append(pngBytes(t), make([]byte, 2048)...)

	tests := []struct {
		name    string
		project string
		data    []byte
		message string
	}{
		{"blank name", "   ", pngBytes(t), "Please enter a project name"},
		{"no image", "board", nil, "Please select an image"},
		{"not an image", "board", []byte("%PDF-1.4 not an image at all"), "Please select an image file"},
		{"too large", "board", tooBig, "Image size must be less than 1KB"},
		{"too many pixels", "board", pngBytes(t), "Image is 4x4 pixels; it must be at most 0.0 megapixels"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.CreateProject(context.Background(), tt.project, "board.png", tt.data)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.message, verr.Message)
		})
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestClient_ErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/projects/1":
			writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "project 1 not found", Code: CodeNotFound})
		case "/projects/2/analysis":
			writeJSON(w, http.StatusBadGateway, errorBody{Error: "upstream_error", Message: "model unavailable", Code: CodeUpstreamError})
		case "/projects/3/chat":
			writeJSON(w, http.StatusConflict, errorBody{Error: "conflict", Message: "busy", Code: CodeTurnInFlight})
		case "/projects/4":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("{not json"))
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()

	_, err := c.GetProject(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualError(t, err, "project 1 not found")

	_, err = c.AnalyzeProject(ctx, 2)
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusBadGateway, upstream.StatusCode)
	assert.Equal(t, CodeUpstreamError, upstream.Code)

	_, err = c.SendChatMessage(ctx, 3, "hello")
	assert.ErrorIs(t, err, ErrTurnInFlight)

	_, err = c.GetProject(ctx, 4)
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusOK, upstream.StatusCode)
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).ListProjects(context.Background(), 0, 0)
	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "GET /projects", nerr.Op)
}

func TestClient_UnknownSenderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"project_id":1,"sender":"system","message":"hi"}]`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).ListChatMessages(context.Background(), 1)
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
}

func TestClient_Ready(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, HealthStatus{Status: "not_ready", Checks: map[string]string{"database": "connection refused"}})
	}))
	defer srv.Close()

	h, err := New(srv.URL).Ready(context.Background())
	require.Error(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "not_ready", h.Status)
	assert.Equal(t, "connection refused", h.Checks["database"])
}

func TestConversation_SendReconciles(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	cv := New(srv.URL).Conversation(1)
	reply, err := cv.Send(context.Background(), " what is U3? ")
	require.NoError(t, err)
	assert.Equal(t, "re: what is U3?", reply.Message)

	entries := cv.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, EntryConfirmed, e.State)
		assert.Empty(t, e.LocalID)
		assert.NotZero(t, e.ID)
	}
	assert.Equal(t, SenderUser, entries[0].Sender)
	assert.Equal(t, SenderBot, entries[1].Sender)
}

func TestConversation_BlankMessage(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	cv := New(srv.URL).Conversation(1)
	_, err := cv.Send(context.Background(), "   ")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, cv.Entries())
	assert.Equal(t, int32(0), api.calls.Load())
}

func TestConversation_FailureAndRetry(t *testing.T) {
	api := &fakeAPI{failNext: true}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	cv := New(srv.URL).Conversation(1)
	_, err := cv.Send(context.Background(), "hello")
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)

	entries := cv.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, EntryFailed, entries[0].State)
	assert.NotEmpty(t, entries[0].LocalID)
	assert.Error(t, entries[0].Err)
	assert.False(t, cv.Sending())

	reply, err := cv.Retry(context.Background(), entries[0].LocalID)
	require.NoError(t, err)
	assert.Equal(t, "re: hello", reply.Message)

	entries = cv.Entries()
	for _, e := range entries {
		assert.Equal(t, EntryConfirmed, e.State)
	}
	assert.Equal(t, int32(2), api.calls.Load())

	_, err = cv.Retry(context.Background(), "missing")
	assert.Error(t, err)
}

func TestConversation_SingleSendInFlight(t *testing.T) {
	api := &fakeAPI{block: make(chan struct{})}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	cv := New(srv.URL).Conversation(1)

	done := make(chan error, 1)
	go func() {
		_, err := cv.Send(context.Background(), "first")
		done <- err
	}()

	require.Eventually(t, func() bool { return api.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, cv.Sending())

	_, err := cv.Send(context.Background(), "second")
	assert.True(t, errors.Is(err, ErrTurnInFlight))

	entries := cv.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, EntryPending, entries[0].State)

	close(api.block)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), api.calls.Load())
	assert.Len(t, cv.Entries(), 2)
}

func TestConversation_ReconcileNotFound(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	err := New(srv.URL).Conversation(404).Reconcile(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}
