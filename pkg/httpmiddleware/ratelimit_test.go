package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helpers ---

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter(RateLimitConfig{Max: limit, Window: window})
	l.now = clock.now
	return l, clock
}

func hit(h http.Handler, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/discounts/validate", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// --- Tests ---

func TestLimiter_Allow(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)

	remaining, _, ok := l.Allow("a")
	require.True(t, ok)
	assert.Equal(t, 1, remaining)
	_, _, ok = l.Allow("a")
	require.True(t, ok)
	_, reset, ok := l.Allow("a")
	require.False(t, ok)
	assert.Equal(t, clock.t.Add(time.Minute), reset)

	_, _, ok = l.Allow("b")
	assert.True(t, ok, "keys are independent")

	// Half into the next window the previous two requests still weigh one.
	clock.advance(90 * time.Second)
	_, _, ok = l.Allow("a")
	assert.True(t, ok)
	_, _, ok = l.Allow("a")
	assert.False(t, ok)

	clock.advance(3 * time.Minute)
	_, _, ok = l.Allow("a")
	assert.True(t, ok, "stale windows are forgotten")
}

func TestLimiter_Sweep(t *testing.T) {
	l, clock := newTestLimiter(1, time.Minute)
	l.Allow("a")
	clock.advance(time.Minute)
	l.Allow("b")

	clock.advance(90 * time.Second)
	l.Sweep()
	assert.NotContains(t, l.windows, "a")
	assert.Contains(t, l.windows, "b")
}

func TestRateLimit_Middleware(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)
	h := l.Middleware()(okHandler())

	for range 2 {
		w := hit(h, "10.0.0.1:9999", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := hit(h, "10.0.0.1:1234", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var (
		code    int
		message string
	)
	require.NoError(t, jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Int()
		case "message":
			message, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}))
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate limit exceeded", message)

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1234", nil).Code)
}

func TestRateLimit_KeyFunc(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		KeyFunc: func(r *http.Request) string { return r.Header.Get("api_key") },
	})(okHandler())

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1", map[string]string{"api_key": "a"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.2:1", map[string]string{"api_key": "a"}).Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1", map[string]string{"api_key": "b"}).Code)
}

func TestRateLimit_ForwardedClient(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())
	xff := map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}

	assert.Equal(t, http.StatusOK, hit(h, "192.168.1.1:4444", xff).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "192.168.1.2:5555", xff).Code)
}
