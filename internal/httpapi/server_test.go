package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/you/ytchat-export/internal/core"
	"github.com/you/ytchat-export/internal/export"
	"github.com/you/ytchat-export/internal/metrics"
)

type sliceStream struct {
	msgs []core.Message
}

func (s *sliceStream) Next(context.Context) (core.Message, bool, error) {
	if len(s.msgs) == 0 {
		return core.Message{}, false, nil
	}
	msg := s.msgs[0]
	s.msgs = s.msgs[1:]
	return msg, true, nil
}

func plain(author, text string) core.Message {
	return core.Message{
		Author:    core.Author{Name: author, ID: "UC-" + strings.ToLower(author)},
		Contents:  []core.ContentItem{core.TextItem(text)},
		Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func superChat(author, amount string) core.Message {
	msg := plain(author, "thanks")
	msg.Variant = core.VariantSuperChat
	msg.SuperChat = &core.SuperChat{Amount: amount}
	return msg
}

func TestParseFilters(t *testing.T) {
	f, err := ParseFilters(url.Values{
		"variant": {"paid", "superchat"},
		"author":  {"Alice,alice", "BOB"},
	})
	require.NoError(t, err)
	require.Equal(t, []core.Variant{core.VariantSuperChat, core.VariantSuperSticker}, f.Variants)
	require.Equal(t, []string{"alice", "bob"}, f.Authors)

	f, err = ParseFilters(url.Values{"variant": {"sc,all"}})
	require.NoError(t, err)
	require.Empty(t, f.Variants)

	_, err = ParseFilters(url.Values{"variant": {"poll"}})
	require.Error(t, err)
	_, err = ParseFilters(url.Values{"since": {"yesterday"}})
	require.Error(t, err)

	f, err = ParseFilters(url.Values{"since": {"1704110400"}})
	require.NoError(t, err)
	require.True(t, f.Since.Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))
}

func TestFiltersMatch(t *testing.T) {
	since := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f := Filters{Variants: []core.Variant{core.VariantSuperChat}, Authors: []string{"ali"}, Since: &since}

	require.True(t, f.Matches(superChat("Alice", "$5")))
	require.False(t, f.Matches(plain("Alice", "hi")))
	require.False(t, f.Matches(superChat("Bob", "$5")))

	early := superChat("Alice", "$5")
	early.Timestamp = since.Add(-time.Minute)
	require.False(t, f.Matches(early))

	require.True(t, Filters{}.Matches(plain("anyone", "x")))
}

func TestHealthzAndInfo(t *testing.T) {
	srv := New(Options{
		Build:  BuildInfo{Version: "v1.2.3", Revision: "abc"},
		Config: json.RawMessage(`{"format":"JSON"}`),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info infoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, "v1.2.3", info.Version)
	require.Equal(t, "abc", info.Revision)
	require.JSONEq(t, `{"format":"JSON"}`, string(info.Config))
	require.Zero(t, info.Clients)
}

func TestRateLimitAndMetrics(t *testing.T) {
	m := metrics.New()
	srv := New(Options{RateRPS: 1, RateBurst: 1, Metrics: m})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	srv = New(Options{Metrics: m})
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "ytchat_http_rate_limited_total 1")
	require.Contains(t, body, `ytchat_http_requests_total{method="GET",route="/healthz",status="429"} 1`)
}

func TestRejectsWrites(t *testing.T) {
	srv := New(Options{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStreamDeliversFilteredMessages(t *testing.T) {
	srv := New(Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stream?variant=superchat")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream; charset=utf-8", resp.Header.Get("Content-Type"))
	require.Equal(t, 1, srv.Clients())

	stream := &sliceStream{msgs: []core.Message{plain("Alice", "hi"), superChat("Bob", "$5")}}
	require.NoError(t, srv.Tail(context.Background(), stream))
	require.Equal(t, 1, srv.Clients())
	require.NoError(t, srv.Shutdown(context.Background()))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	frames := string(body)

	require.Equal(t, 1, strings.Count(frames, "event: message"))
	require.NotContains(t, frames, `"author":"Alice"`)
	require.Contains(t, frames, `"author":"Bob"`)
	require.Contains(t, frames, `"currency_amount":"$5"`)
	require.True(t, strings.HasSuffix(frames, "event: end\ndata: {}\n\n"))
	require.Zero(t, srv.Clients())
}

func TestStreamRejectsBadFilter(t *testing.T) {
	srv := New(Options{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream?variant=poll", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebSocketReceivesRecords(t *testing.T) {
	srv := New(Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws?author=carol", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return srv.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	srv.Broadcast(plain("Alice", "skip me"))
	srv.Broadcast(plain("Carol", "hello"))

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var rec export.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Equal(t, "Carol", rec.Author)
	require.Equal(t, "UC-carol", rec.ID)

	require.NoError(t, srv.Shutdown(ctx))
	_, _, err = conn.Read(ctx)
	require.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestShutdownRejectsNewClients(t *testing.T) {
	srv := New(Options{})
	require.NoError(t, srv.Shutdown(context.Background()))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORS(t *testing.T) {
	srv := New(Options{CORSOrigins: []string{"https://overlay.test"}})

	req := httptest.NewRequest(http.MethodOptions, "/stream", nil)
	req.Header.Set("Origin", "https://overlay.test")
	req.Header.Set("Access-Control-Request-Headers", "Last-Event-ID")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://overlay.test", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "Last-Event-ID", rec.Header().Get("Access-Control-Allow-Headers"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://elsewhere.test")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://overlay.test")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://overlay.test", rec.Header().Get("Access-Control-Allow-Origin"))
}
