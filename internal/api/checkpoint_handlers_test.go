package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applyflow/applyflow/internal/checkpoint"
	"github.com/applyflow/applyflow/internal/session"
	"github.com/applyflow/applyflow/pkg/models"
)

// scriptedPage implements session.Page for handler tests.
type scriptedPage struct {
	mu         sync.Mutex
	currentURL string
	afterPress string // URL the page moves to after a key press
	clickErr   error
	pressed    []string
	typed      []string
	shots      int
}

func (p *scriptedPage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentURL = url
	return nil
}

func (p *scriptedPage) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentURL, nil
}

func (p *scriptedPage) Click(_ context.Context, selector string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clickErr
}

func (p *scriptedPage) ClickAt(context.Context, float64, float64) error { return nil }

func (p *scriptedPage) Type(_ context.Context, _, text string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typed = append(p.typed, text)
	return nil
}

func (p *scriptedPage) Press(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pressed = append(p.pressed, key)
	if p.afterPress != "" {
		p.currentURL = p.afterPress
	}
	return nil
}

func (p *scriptedPage) Screenshot(context.Context, bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shots++
	return []byte("\x89PNG fake"), nil
}

func (p *scriptedPage) Eval(context.Context, string) (string, error) { return "[]", nil }
func (p *scriptedPage) Has(context.Context, string) (bool, error)   { return true, nil }
func (p *scriptedPage) Close() error                                { return nil }

// pageLauncher hands the same scripted page to every session.
type pageLauncher struct {
	page *scriptedPage
}

func (l *pageLauncher) Launch(context.Context, string, string) (session.Page, func(), error) {
	return l.page, func() {}, nil
}

type fixture struct {
	handler *CheckpointHandler
	store   *checkpoint.Store
	mgr     *session.Manager
	page    *scriptedPage
	router  *mux.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	page := &scriptedPage{currentURL: "https://www.linkedin.com/feed/"}
	store := checkpoint.NewStore()
	cfg := session.DefaultConfig()
	cfg.TypeDelay = 0
	cfg.SettleDelay = 0
	mgr := session.NewManager(&pageLauncher{page: page}, store, nil, cfg)

	_, err := mgr.Start(context.Background(), "u1")
	require.NoError(t, err)

	handler := NewCheckpointHandler(mgr, store)
	handler.Timing = Timing{ClickTimeout: 50 * time.Millisecond}

	router := mux.NewRouter()
	router.HandleFunc("/v1/checkpoint/{userId}/status", handler.Status).Methods("GET")
	router.HandleFunc("/v1/checkpoint/{userId}/frame.png", handler.Frame).Methods("GET")
	router.HandleFunc("/v1/checkpoint/{userId}/action", handler.Action).Methods("POST")
	router.HandleFunc("/v1/checkpoint/{userId}/complete", handler.Complete).Methods("POST")

	return &fixture{handler: handler, store: store, mgr: mgr, page: page, router: router}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) requireCheckpoint(t *testing.T, url string) {
	t.Helper()
	f.page.mu.Lock()
	f.page.currentURL = url
	f.page.mu.Unlock()
	f.store.Set("u1", models.CheckpointState{
		State:         models.CheckpointRequired,
		Step:          "login",
		CheckpointURL: url,
	})
}

func TestStatusIsNoCacheJSON(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/v1/checkpoint/u1/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")

	var state models.CheckpointState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, models.CheckpointRunning, state.State)
}

func TestFrameRequiresPendingCheckpoint(t *testing.T) {
	f := newFixture(t)

	// State is running, not checkpoint_required.
	rec := f.do(t, "GET", "/v1/checkpoint/u1/frame.png", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 0, f.page.shots, "no screenshot is taken on 409")
}

func TestFrameReturnsFreshScreenshot(t *testing.T) {
	f := newFixture(t)
	f.requireCheckpoint(t, "https://www.linkedin.com/checkpoint/challenge/x")

	rec := f.do(t, "GET", "/v1/checkpoint/u1/frame.png", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-cache")
	assert.Equal(t, 1, f.page.shots)

	f.do(t, "GET", "/v1/checkpoint/u1/frame.png", nil)
	assert.Equal(t, 2, f.page.shots, "every call takes a new screenshot")
}

func TestFrameGoneWithoutSession(t *testing.T) {
	f := newFixture(t)
	f.store.Set("ghost", models.CheckpointState{State: models.CheckpointRequired})

	rec := f.do(t, "GET", "/v1/checkpoint/ghost/frame.png", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestActionRejectedWithoutCheckpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/v1/checkpoint/u1/action", models.ActionRequest{Type: models.ActionPress})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestClickOnMissingElementFailsWithoutStateChange(t *testing.T) {
	f := newFixture(t)
	f.requireCheckpoint(t, "https://www.linkedin.com/checkpoint/challenge/x")
	f.page.clickErr = errors.New("element not found: timeout")

	rec := f.do(t, "POST", "/v1/checkpoint/u1/action", models.ActionRequest{
		Type:     models.ActionClick,
		Selector: "#never-appears",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "element not found")

	state := f.store.Get("u1")
	assert.Equal(t, models.CheckpointRequired, state.State, "failed action leaves checkpoint state untouched")
}

func TestPressClearsWallAndResumesOnce(t *testing.T) {
	f := newFixture(t)
	f.requireCheckpoint(t, "https://www.linkedin.com/checkpoint/challenge/x")
	f.page.afterPress = "https://www.linkedin.com/feed/"

	var resumed atomic.Int32
	sess, ok := f.mgr.Session("u1")
	require.True(t, ok)
	sess.SetResume(session.NewResume(func() { resumed.Add(1) }))

	rec := f.do(t, "POST", "/v1/checkpoint/u1/action", models.ActionRequest{
		Type: models.ActionPress,
		Key:  "Enter",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.ActionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "https://www.linkedin.com/feed/", resp.CurrentURL)

	assert.Equal(t, models.CheckpointRunning, f.store.Get("u1").State)
	assert.Equal(t, int32(1), resumed.Load())

	// A second press finds no pending checkpoint.
	rec = f.do(t, "POST", "/v1/checkpoint/u1/action", models.ActionRequest{Type: models.ActionPress})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, int32(1), resumed.Load(), "resume fires exactly once")
}

func TestActionStillWalledKeepsCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.requireCheckpoint(t, "https://www.linkedin.com/checkpoint/challenge/x")
	// afterPress left empty: the URL stays on the challenge page.

	rec := f.do(t, "POST", "/v1/checkpoint/u1/action", models.ActionRequest{Type: models.ActionPress})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.CheckpointRequired, f.store.Get("u1").State)
}

func TestTypeRequiresSelector(t *testing.T) {
	f := newFixture(t)
	f.requireCheckpoint(t, "https://www.linkedin.com/checkpoint/challenge/x")

	rec := f.do(t, "POST", "/v1/checkpoint/u1/action", models.ActionRequest{
		Type: models.ActionTypeText,
		Text: "123456",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "selector is required")
}

func TestFrameDuringStopNeverPanics(t *testing.T) {
	f := newFixture(t)
	f.requireCheckpoint(t, "https://www.linkedin.com/checkpoint/challenge/x")

	// Hammer the frame endpoint while the session is torn down underneath
	// it. Every response must be a plain status; the page going away
	// mid-request answers 410, never a nil dereference.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			rec := f.do(t, "GET", "/v1/checkpoint/u1/frame.png", nil)
			switch rec.Code {
			case http.StatusOK, http.StatusConflict, http.StatusGone:
			default:
				t.Errorf("unexpected status %d during teardown", rec.Code)
			}
		}
	}()

	require.NoError(t, f.mgr.Stop(context.Background(), "u1"))
	wg.Wait()

	// Stop cleared the checkpoint, so the dust settles on 409.
	rec := f.do(t, "GET", "/v1/checkpoint/u1/frame.png", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCompleteIsIdempotent(t *testing.T) {
	f := newFixture(t)

	// No checkpoint pending: trivially ok, state untouched.
	before := f.store.Get("u1")
	rec := f.do(t, "POST", "/v1/checkpoint/u1/complete", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, before.State, f.store.Get("u1").State)

	// With a pending checkpoint: moves back to running and fires the
	// continuation, same as a successful action.
	f.requireCheckpoint(t, "https://www.linkedin.com/checkpoint/challenge/x")
	var resumed atomic.Int32
	sess, _ := f.mgr.Session("u1")
	sess.SetResume(session.NewResume(func() { resumed.Add(1) }))

	rec = f.do(t, "POST", "/v1/checkpoint/u1/complete", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.CheckpointRunning, f.store.Get("u1").State)
	assert.Equal(t, int32(1), resumed.Load())

	// Double submit.
	rec = f.do(t, "POST", "/v1/checkpoint/u1/complete", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), resumed.Load())
}
