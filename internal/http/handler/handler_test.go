package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/repository"
	"github.com/sifan077/shortlink/internal/app/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "http://sho.rt"

type testEnv struct {
	app   *fiber.App
	repo  *repository.MemoryLinkRepository
	queue *service.ClickQueue
}

func newTestEnv(t *testing.T, checks ...ReadinessCheck) *testEnv {
	t.Helper()

	repo := repository.NewMemoryLinkRepository()
	queue := service.NewClickQueue(service.ClickQueueConfig{Workers: 2}, repo, nil, nil)
	queue.Start()
	t.Cleanup(func() { _ = queue.Close(context.Background()) })

	links := service.NewLinkService(service.LinkServiceDeps{
		Links:  repo,
		Config: service.LinkServiceConfig{BaseURL: testBaseURL},
	})
	resolver := service.NewRedirectResolver(service.RedirectDeps{Links: repo, Clicks: queue})

	app := fiber.New()
	NewAPIHandler(APIDeps{LinkService: links}).Register(app)
	NewRedirectHandler(RedirectDeps{Resolver: resolver, Checks: checks, HomeURL: testBaseURL}).Register(app)

	return &testEnv{app: app, repo: repo, queue: queue}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestShorten_CreatesLink(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/shorten", ShortenRequest{LongURL: "https://example.com/page"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	got := decode[ShortenResponse](t, resp)
	assert.Equal(t, "https://example.com/page", got.LongURL)
	assert.Equal(t, testBaseURL+"/"+got.URLCode, got.ShortURL)
	assert.Len(t, got.URLCode, 7)
	assert.Zero(t, got.Clicks)
	assert.False(t, got.Date.IsZero())
	assert.Equal(t, 1, env.repo.Len())
}

func TestShorten_Errors(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/shorten", ShortenRequest{LongURL: "https://example.com", CustomAlias: "taken-alias"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	tests := []struct {
		name   string
		body   any
		status int
		errMsg string
	}{
		{name: "malformed json", body: "{", status: fiber.StatusBadRequest, errMsg: "Invalid request body"},
		{name: "not a url", body: ShortenRequest{LongURL: "not-a-url"}, status: fiber.StatusBadRequest, errMsg: "Invalid long URL"},
		{name: "missing url", body: ShortenRequest{}, status: fiber.StatusBadRequest, errMsg: "URL is required"},
		{name: "short alias", body: ShortenRequest{LongURL: "https://example.com", CustomAlias: "abc"}, status: fiber.StatusBadRequest},
		{name: "alias taken", body: ShortenRequest{LongURL: "https://other.example", CustomAlias: "taken-alias"}, status: fiber.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/shorten", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)

			body := decode[map[string]string](t, resp)
			assert.NotEmpty(t, body["error"])
			if tt.errMsg != "" {
				assert.Equal(t, tt.errMsg, body["error"])
			}
		})
	}
	assert.Equal(t, 1, env.repo.Len())
}

type failingLinkService struct {
	service.LinkService
}

func (failingLinkService) Shorten(context.Context, service.ShortenInput) (*model.Link, error) {
	return nil, service.ErrCapacityExhausted
}

func (failingLinkService) ListRecent(context.Context, int) ([]model.Link, error) {
	return nil, errors.New("db down")
}

func TestAPI_ServerErrorsAreGeneric(t *testing.T) {
	app := fiber.New()
	NewAPIHandler(APIDeps{LinkService: failingLinkService{}}).Register(app)

	req := httptest.NewRequest(http.MethodPost, "/api/shorten", strings.NewReader(`{"longUrl":"https://example.com"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Server error", decode[map[string]string](t, resp)["error"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/urls", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Server error", decode[map[string]string](t, resp)["error"])
}

func TestRedirect_FollowsAndCounts(t *testing.T) {
	env := newTestEnv(t)

	created := decode[ShortenResponse](t, env.do(t, http.MethodPost, "/api/shorten",
		ShortenRequest{LongURL: "https://example.com/dest", CustomAlias: "go-here"}))

	resp := env.do(t, http.MethodGet, "/"+created.URLCode, nil)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://example.com/dest", resp.Header.Get(fiber.HeaderLocation))

	require.NoError(t, env.queue.Close(context.Background()))

	urls := decode[[]URLResponse](t, env.do(t, http.MethodGet, "/api/urls", nil))
	require.Len(t, urls, 1)
	assert.EqualValues(t, 1, urls[0].Clicks)
	assert.Equal(t, testBaseURL+"/go-here", urls[0].ShortURL)
	assert.NotEmpty(t, urls[0].ID)
}

func TestRedirect_NotFoundPage(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/nothere", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentType), "text/html")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Link not found")
	assert.Zero(t, env.repo.Len())
}

func TestListURLs_NewestFirstWithLimit(t *testing.T) {
	env := newTestEnv(t)

	for _, alias := range []string{"first", "second", "third"} {
		resp := env.do(t, http.MethodPost, "/api/shorten", ShortenRequest{LongURL: "https://example.com/" + alias, CustomAlias: alias})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
		time.Sleep(2 * time.Millisecond)
	}

	urls := decode[[]URLResponse](t, env.do(t, http.MethodGet, "/api/urls?limit=2", nil))
	require.Len(t, urls, 2)
	assert.Equal(t, "https://example.com/third", urls[0].LongURL)
	assert.Equal(t, "https://example.com/second", urls[1].LongURL)
}

func TestListURLs_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/urls", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(body))
}

func TestQRCode(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/qrcode", QRCodeRequest{ShortURL: testBaseURL + "/abc1234"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	got := decode[QRCodeResponse](t, resp)
	require.True(t, strings.HasPrefix(got.QRCode, "data:image/png;base64,"))
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(got.QRCode, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])

	resp = env.do(t, http.MethodPost, "/api/qrcode", QRCodeRequest{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/qrcode", QRCodeRequest{ShortURL: strings.Repeat("x", 5000)})
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestReady(t *testing.T) {
	ok := ReadinessCheck{Name: "postgres", Ping: func(context.Context) error { return nil }}
	bad := ReadinessCheck{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }}

	resp := newTestEnv(t, ok).do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = newTestEnv(t, ok, bad).do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}

type recordingResolver struct {
	mu     sync.Mutex
	visits []service.Visit
}

func (r *recordingResolver) Resolve(_ context.Context, _ string, visit service.Visit) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visits = append(r.visits, visit)
	return "https://example.com", nil
}

func TestRedirect_VisitSurvivesLaterRequests(t *testing.T) {
	resolver := &recordingResolver{}
	app := fiber.New()
	NewRedirectHandler(RedirectDeps{Resolver: resolver}).Register(app)

	agents := []string{
		strings.Repeat("A", 40) + "-first",
		strings.Repeat("B", 40) + "-second",
		strings.Repeat("C", 40) + "-third",
	}
	for _, ua := range agents {
		req := httptest.NewRequest(http.MethodGet, "/abc1234", nil)
		req.Header.Set(fiber.HeaderUserAgent, ua)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusFound, resp.StatusCode)
	}

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	require.Len(t, resolver.visits, len(agents))
	for i, ua := range agents {
		assert.Equal(t, ua, resolver.visits[i].UserAgent)
	}
}
