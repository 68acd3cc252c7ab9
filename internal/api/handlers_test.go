package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/auth"
	"chatrelay/internal/models"
	"chatrelay/internal/service/relay"
	"chatrelay/internal/session"
	"chatrelay/internal/worker"
)

const testPrompt = "You are a test assistant."

type mockCompleter struct {
	fragments []string
	err       error
}

func (m *mockCompleter) Stream(ctx context.Context, transcript []models.Message, temperature float32, onFragment func(string) error) (string, error) {
	full := ""
	for _, frag := range m.fragments {
		if err := onFragment(frag); err != nil {
			return "", err
		}
		full += frag
	}
	if m.err != nil {
		return "", m.err
	}
	return full, nil
}

type mockImages struct {
	url string
	err error
}

func (m *mockImages) Generate(ctx context.Context, prompt string) (string, error) {
	return m.url, m.err
}

type busyRunner struct{}

func (busyRunner) Do(context.Context, string, func(context.Context)) error {
	return worker.ErrDispatcherBusy
}

type testServer struct {
	router *gin.Engine
	store  *session.Store
}

func newTestServer(t *testing.T, completer relay.Completer, images relay.ImageService, runner relay.Runner) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := session.NewStore(testPrompt)
	renderer, err := NewRenderer()
	require.NoError(t, err)
	chat := relay.NewChatRelay(store, completer, runner, nil, relay.ChatConfig{Temperature: 0.6, Timeout: 5 * time.Second})
	imageRelay := relay.NewImageRelay(store, images, runner, nil, 5*time.Second)

	router := gin.New()
	NewHandler(store, auth.NewService(""), chat, imageRelay, renderer).RegisterRoutes(router)
	return &testServer{router: router, store: store}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) session(t *testing.T, id string) *session.Session {
	t.Helper()
	sess, err := s.store.GetOrCreate(context.Background(), id)
	require.NoError(t, err)
	return sess
}

func postImage(prompt, sessionID string) *http.Request {
	form := url.Values{"user_input": {prompt}}
	req := httptest.NewRequest(http.MethodPost, "/image", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "session_id", Value: sessionID})
	}
	return req
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "session_id" {
			return c
		}
	}
	t.Fatalf("session_id cookie not set")
	return nil
}

func TestChatPageIssuesCookieAndCreatesSession(t *testing.T) {
	srv := newTestServer(t, &mockCompleter{}, &mockImages{}, nil)

	w := srv.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	cookie := sessionCookie(t, w)
	assert.NotEmpty(t, cookie.Value)
	assert.Equal(t, 1, srv.store.Len())
	assert.Contains(t, w.Body.String(), cookie.Value, "page connects the socket for its session")
}

func TestChatPageRendersDisplayLog(t *testing.T) {
	srv := newTestServer(t, &mockCompleter{}, &mockImages{}, nil)
	sess := srv.session(t, "S")
	sess.AppendUser("<b>hello</b>")
	sess.AppendAssistant("**Hi** there")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "S"})
	w := srv.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Result().Cookies(), "existing cookie is kept")

	body := w.Body.String()
	assert.Contains(t, body, `<div class="entry user">&lt;b&gt;hello&lt;/b&gt;</div>`)
	assert.Contains(t, body, "<strong>Hi</strong> there")
	assert.Less(t, strings.Index(body, "hello"), strings.Index(body, "<strong>Hi</strong>"))
}

func TestImagePostSuccess(t *testing.T) {
	srv := newTestServer(t, &mockCompleter{}, &mockImages{url: "https://img.example/cube.png"}, nil)

	w := srv.do(t, postImage("a red cube", "S"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `<div class="latest"><img src="https://img.example/cube.png"`)
	assert.Equal(t, []string{"https://img.example/cube.png"}, srv.session(t, "S").ImageLog())

	page := httptest.NewRequest(http.MethodGet, "/image", nil)
	page.AddCookie(&http.Cookie{Name: "session_id", Value: "S"})
	w = srv.do(t, page)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://img.example/cube.png")
	assert.NotContains(t, w.Body.String(), `class="latest"`)
}

func TestImagePostUpstreamFailure(t *testing.T) {
	srv := newTestServer(t, &mockCompleter{}, &mockImages{err: errors.New("quota exceeded")}, nil)

	w := srv.do(t, postImage("a red cube", "S"))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "quota exceeded")
	assert.Empty(t, srv.session(t, "S").ImageLog())
}

func TestImagePostEmptyPrompt(t *testing.T) {
	srv := newTestServer(t, &mockCompleter{}, &mockImages{url: "u"}, nil)

	w := srv.do(t, postImage("   ", "S"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, srv.session(t, "S").ImageLog())
}

func TestImagePostBusy(t *testing.T) {
	srv := newTestServer(t, &mockCompleter{}, &mockImages{url: "u"}, busyRunner{})

	w := srv.do(t, postImage("a red cube", "S"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Empty(t, srv.session(t, "S").ImageLog())
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &mockCompleter{}, &mockImages{}, nil)
	srv.session(t, "a")
	srv.session(t, "b")

	w := srv.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":2}`, w.Body.String())
}

func dialChat(t *testing.T, srv *testServer, sessionID string) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(srv.router)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	return string(data)
}

func TestChatSocketStreamsReply(t *testing.T) {
	srv := newTestServer(t, &mockCompleter{fragments: []string{"Hi", " there"}}, &mockImages{}, nil)
	conn := dialChat(t, srv, "S")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	assert.Equal(t, "Hi", readText(t, conn))
	assert.Equal(t, " there", readText(t, conn))

	sess := srv.session(t, "S")
	assert.Eventually(t, func() bool { return len(sess.DisplayLog()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"hello", "Hi there"}, sess.DisplayLog())
	assert.Equal(t, []models.Message{
		{Role: models.RoleSystem, Content: testPrompt},
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "Hi there"},
	}, sess.Transcript())
}

func TestChatSocketMidStreamFailure(t *testing.T) {
	srv := newTestServer(t, &mockCompleter{fragments: []string{"Hi"}, err: errors.New("stream reset")}, &mockImages{}, nil)
	conn := dialChat(t, srv, "S")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	assert.Equal(t, "Hi", readText(t, conn))
	assert.Equal(t, "Error: stream reset", readText(t, conn))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server closes after the error frame")

	sess := srv.session(t, "S")
	assert.Equal(t, []string{"hello"}, sess.DisplayLog())
	assert.Len(t, sess.Transcript(), 2)
}

func TestChatSocketRejectsBinaryFrames(t *testing.T) {
	srv := newTestServer(t, &mockCompleter{}, &mockImages{}, nil)
	conn := dialChat(t, srv, "S")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}))
	assert.Equal(t, "Error: binary frames are not supported", readText(t, conn))
	assert.Empty(t, srv.session(t, "S").DisplayLog())
}

// flakyCompleter fails its first call and answers every later one.
type flakyCompleter struct {
	mu    sync.Mutex
	calls int
}

func (f *flakyCompleter) Stream(ctx context.Context, transcript []models.Message, temperature float32, onFragment func(string) error) (string, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()
	if first {
		return "", errors.New("upstream unavailable")
	}
	if err := onFragment("Use **flexbox**."); err != nil {
		return "", err
	}
	return "Use **flexbox**.", nil
}

func TestChatPageAfterFailedTurnKeepsAuthors(t *testing.T) {
	srv := newTestServer(t, &flakyCompleter{}, &mockImages{}, nil)

	first := dialChat(t, srv, "S")
	require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte("first try")))
	assert.Equal(t, "Error: upstream unavailable", readText(t, first))

	second := dialChat(t, srv, "S")
	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte("how do I <center>?")))
	assert.Equal(t, "Use **flexbox**.", readText(t, second))

	sess := srv.session(t, "S")
	assert.Eventually(t, func() bool { return len(sess.DisplayLog()) == 3 }, 2*time.Second, 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "S"})
	w := srv.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `<div class="entry user">first try</div>`)
	assert.Contains(t, body, `<div class="entry user">how do I &lt;center&gt;?</div>`)
	assert.Contains(t, body, `<div class="entry assistant"><p>Use <strong>flexbox</strong>.</p>`)
}
