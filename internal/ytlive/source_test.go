package ytlive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/you/ytchat-export/internal/core"
)

const livePage = `<html><script>ytcfg.set({"INNERTUBE_API_KEY":"key-1","INNERTUBE_CLIENT_VERSION":"2.20240101.00.00"});</script>
<script>window["ytInitialData"] = {"contents":{"liveChatRenderer":{"continuations":[{"invalidationContinuationData":{"continuation":"cont-0","timeoutMs":10000}}]}}};</script></html>`

const firstPoll = `{
  "continuationContents": {"liveChatContinuation": {
    "continuations": [{"invalidationContinuationData": {"continuation": "cont-1", "timeoutMs": 5}}],
    "actions": [
      {"addChatItemAction": {"item": {"liveChatTextMessageRenderer": {
        "id": "m1",
        "timestampUsec": "1617460800000000",
        "authorName": {"simpleText": "Alice"},
        "authorExternalChannelId": "UC-alice",
        "authorPhoto": {"thumbnails": [{"url": "https://yt3.ggpht.com/a=s32"}, {"url": "https://yt3.ggpht.com/a=s64"}]},
        "authorBadges": [
          {"liveChatAuthorBadgeRenderer": {"icon": {"iconType": "MODERATOR"}}},
          {"liveChatAuthorBadgeRenderer": {"customThumbnail": {"thumbnails": [{"url": "https://yt3.ggpht.com/badge=s16"}, {"url": "https://yt3.ggpht.com/badge=s32"}]}}}
        ],
        "message": {"runs": [
          {"text": "hello "},
          {"emoji": {"emojiId": "UCx/wave", "image": {"thumbnails": [{"url": "https://yt3.ggpht.com/wave"}]}}}
        ]}
      }}}},
      {"addChatItemAction": {"item": {"liveChatPaidMessageRenderer": {
        "id": "m2",
        "timestampUsec": "1617460860000000",
        "authorName": {"simpleText": "Bob"},
        "authorExternalChannelId": "UC-bob",
        "purchaseAmountText": {"simpleText": "$5.00"},
        "bodyBackgroundColor": 4280191205,
        "headerTextColor": 4278190080
      }}}},
      {"addLiveChatTickerItemAction": {"item": {"liveChatTickerPaidMessageItemRenderer": {"id": "t1"}}}},
      {"addChatItemAction": {"item": {"liveChatPaidStickerRenderer": {
        "id": "m3",
        "authorName": {"simpleText": "Cid"},
        "authorExternalChannelId": "UC-cid",
        "purchaseAmountText": {"simpleText": "¥500"},
        "sticker": {"thumbnails": [{"url": "//lh3.googleusercontent.com/sticker=s88"}]},
        "moneyChipTextColor": 4294967295
      }}}},
      {"addChatItemAction": {"item": {"liveChatMembershipItemRenderer": {
        "id": "m4",
        "authorName": {"simpleText": "Dee"},
        "authorExternalChannelId": "UC-dee",
        "headerSubtext": {"runs": [{"text": "Welcome to "}, {"text": "the club"}]}
      }}}}
    ]
  }}
}`

const lastPoll = `{"continuationContents": {"liveChatContinuation": {"actions": [
  {"addChatItemAction": {"item": {"liveChatTextMessageRenderer": {
    "id": "m5", "authorName": {"simpleText": "Eve"}, "authorExternalChannelId": "UC-eve",
    "message": {"simpleText": "bye"}
  }}}}
]}}}`

func newChatServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var (
		mu            sync.Mutex
		continuations []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/live_chat", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("v") != "vid12345678" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(livePage))
	})
	mux.HandleFunc("/youtubei/v1/live_chat/get_live_chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Query().Get("key") != "key-1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var body struct {
			Continuation string `json:"continuation"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		continuations = append(continuations, body.Continuation)
		mu.Unlock()
		switch body.Continuation {
		case "cont-0":
			w.Write([]byte(firstPoll))
		case "cont-1":
			w.Write([]byte(lastPoll))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &continuations
}

func TestNewSourceTimingDefaults(t *testing.T) {
	s := NewSource(Config{VideoID: "x"})
	require.Equal(t, defaultPollTimeout, s.http.Timeout)
	require.Equal(t, defaultLivePollDelay, s.pollDelay)

	s = NewSource(Config{VideoID: "x", PollTimeoutSecs: 5, PollIntervalMS: 4500})
	require.Equal(t, 5*time.Second, s.http.Timeout)
	require.Equal(t, 4500*time.Millisecond, s.pollDelay)
	require.True(t, s.Alive())
}

func TestSourceFetchUntilContinuationEnds(t *testing.T) {
	srv, continuations := newChatServer(t)
	s := NewSource(Config{
		VideoID: "vid12345678",
		Client:  &http.Client{Transport: rewriteTransport(srv.URL), Timeout: 2 * time.Second},
	})
	ctx := context.Background()

	batch, err := s.Fetch(ctx)
	require.NoError(t, err)
	require.True(t, s.Alive())
	require.Len(t, batch, 4)
	require.Equal(t, 5*time.Millisecond, s.next)

	kinds := make([]string, 0, len(batch))
	for _, ev := range batch {
		kinds = append(kinds, ev.Kind())
	}
	require.Equal(t, []string{core.KindTextMessage, core.KindSuperChat, core.KindSuperSticker, core.KindNewSponsor}, kinds)

	alice := batch[0].Author()
	require.Equal(t, core.Author{
		Name:        "Alice",
		ID:          "UC-alice",
		ImageURL:    "https://yt3.ggpht.com/a=s64",
		BadgeURL:    "https://yt3.ggpht.com/badge=s32",
		IsSponsor:   true,
		IsModerator: true,
	}, alice)
	require.Equal(t, []core.ContentItem{
		core.TextItem("hello "),
		core.EmojiItem("UCx/wave", "https://yt3.ggpht.com/wave"),
	}, batch[0].Contents())
	require.Equal(t, "1617460800000000", batch[0].Timestamp())

	require.Equal(t, "$5.00", batch[1].Amount())
	color, ok := batch[1].Color(core.ColorBodyBackground)
	require.True(t, ok)
	require.EqualValues(t, 4280191205, color)
	_, ok = batch[1].Color(core.ColorTimestamp)
	require.False(t, ok)

	require.Equal(t, "https://lh3.googleusercontent.com/sticker=s88", batch[2].Sticker())
	require.Equal(t, []core.ContentItem{core.TextItem("Welcome to "), core.TextItem("the club")}, batch[3].Contents())

	batch, err = s.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, []core.ContentItem{core.TextItem("bye")}, batch[0].Contents())
	require.False(t, s.Alive())

	batch, err = s.Fetch(ctx)
	require.NoError(t, err)
	require.Empty(t, batch)
	require.Equal(t, []string{"cont-0", "cont-1"}, *continuations)
}

func TestSourceUnavailableChat(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/live_chat", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<script>ytcfg.set({"INNERTUBE_API_KEY":"k","INNERTUBE_CLIENT_VERSION":"v"});</script><script>window["ytInitialData"] = {"contents":{"messageRenderer":{}}};</script>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSource(Config{VideoID: "vid12345678", Client: &http.Client{Transport: rewriteTransport(srv.URL)}})
	_, err := s.Fetch(context.Background())
	require.True(t, errors.Is(err, ErrChatUnavailable), "got %v", err)
}

func TestSourceFetchHonoursContext(t *testing.T) {
	s := NewSource(Config{VideoID: "vid12345678"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Fetch(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestContinuationOf(t *testing.T) {
	cont, timeout := continuationOf(gjson.Parse(`[{"timedContinuationData":{"continuation":"abc123","timeoutMs":"2500"}}]`))
	require.Equal(t, "abc123", cont)
	require.Equal(t, 2500, timeout)
	require.Equal(t, 2500*time.Millisecond, nextLivePollDelay(timeout, defaultLivePollDelay))

	cont, timeout = continuationOf(gjson.Parse(`[{"reloadContinuationData":{"continuation":"def456"}}]`))
	require.Equal(t, "def456", cont)
	require.Zero(t, timeout)
	require.Equal(t, defaultLivePollDelay, nextLivePollDelay(timeout, defaultLivePollDelay))

	cont, _ = continuationOf(gjson.Parse(`[{"playerSeekContinuationData":{}}]`))
	require.Empty(t, cont)
}

func TestExtractEventsAppendContinuationItems(t *testing.T) {
	actions := gjson.Parse(`[
	  {"appendContinuationItemsAction":{"continuationItems":[
	    {"liveChatTextMessageRenderer":{"id":"a"}},
	    {"addChatItemAction":{"item":{"liveChatPaidMessageRenderer":{"id":"b"}}}},
	    {"liveChatViewerEngagementMessageRenderer":{"id":"c"}}
	  ]}},
	  {"showLiveChatActionPanelAction":{"panelToShow":{"liveChatPollRenderer":{}}}}
	]`)
	events := extractEvents(actions)
	require.Len(t, events, 2)
	require.Equal(t, core.KindTextMessage, events[0].Kind())
	require.Equal(t, core.KindSuperChat, events[1].Kind())
	require.Equal(t, "b", events[1].(event).ID())
}
