// Package ytlive polls the YouTube live chat of one video and exposes the chat
// items as raw events for the export pipeline.
package ytlive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/you/ytchat-export/internal/core"
)

const (
	defaultPollTimeout   = 15 * time.Second
	defaultLivePollDelay = 1500 * time.Millisecond
	maxBackoff           = 60 * time.Second
	maxFailures          = 5

	baseURL   = "https://www.youtube.com"
	userAgent = "Mozilla/5.0 (compatible; ytchat-export/1.0)"
)

// ErrChatUnavailable is returned when the video has no live chat to follow.
var ErrChatUnavailable = errors.New("ytlive: live chat unavailable")

type Config struct {
	VideoID         string
	PollIntervalMS  int
	PollTimeoutSecs int
	Client          *http.Client
}

// Source follows one live chat. Fetch and Alive are called from a single
// goroutine; Alive may also be read concurrently.
type Source struct {
	videoID   string
	http      *http.Client
	pollDelay time.Duration

	apiKey        string
	clientVersion string
	continuation  string

	polls    int
	failures int
	backoff  time.Duration
	next     time.Duration
	alive    atomic.Bool

	total   int
	lastLog time.Time
}

func NewSource(cfg Config) *Source {
	timeout := defaultPollTimeout
	if cfg.PollTimeoutSecs > 0 {
		timeout = time.Duration(cfg.PollTimeoutSecs) * time.Second
	}
	delay := defaultLivePollDelay
	if cfg.PollIntervalMS > 0 {
		delay = time.Duration(cfg.PollIntervalMS) * time.Millisecond
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	s := &Source{
		videoID:   strings.TrimSpace(cfg.VideoID),
		http:      client,
		pollDelay: delay,
		backoff:   time.Second,
		lastLog:   time.Now(),
	}
	s.alive.Store(true)
	return s
}

// Alive reports whether the chat may still produce events.
func (s *Source) Alive() bool { return s.alive.Load() }

// Fetch performs one poll and returns its chat items. The first call bootstraps
// the session. Transient failures are retried with backoff; after repeated
// failures the last error is returned.
func (s *Source) Fetch(ctx context.Context) ([]core.RawEvent, error) {
	if s.videoID == "" {
		return nil, errors.New("ytlive: video id is required")
	}
	if !s.Alive() {
		return nil, nil
	}
	if s.next > 0 && !sleepContext(ctx, s.next) {
		return nil, ctx.Err()
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if s.continuation == "" {
			err := s.bootstrap(ctx)
			if errors.Is(err, ErrChatUnavailable) {
				if s.polls > 0 {
					log.Printf("ytlive: chat for %s is no longer available, stream ended", s.videoID)
					s.alive.Store(false)
					return nil, nil
				}
				return nil, err
			}
			if err != nil {
				if rerr := s.retry(ctx, "bootstrap", err); rerr != nil {
					return nil, rerr
				}
				continue
			}
		}

		events, next, timeout, err := s.poll(ctx)
		if err != nil {
			if rerr := s.retry(ctx, "poll", err); rerr != nil {
				return nil, rerr
			}
			s.apiKey, s.clientVersion, s.continuation = "", "", ""
			continue
		}

		s.polls++
		s.failures = 0
		s.backoff = time.Second
		s.total += len(events)
		if time.Since(s.lastLog) >= 10*time.Second {
			log.Printf("ytlive: received %d events (total %d)", len(events), s.total)
			s.lastLog = time.Now()
		}

		s.continuation = next
		if next == "" {
			log.Printf("ytlive: no continuation for %s, chat finished after %d events", s.videoID, s.total)
			s.alive.Store(false)
		}
		s.next = nextLivePollDelay(timeout, s.pollDelay)
		return events, nil
	}
}

func (s *Source) retry(ctx context.Context, stage string, err error) error {
	s.failures++
	if s.failures >= maxFailures {
		return fmt.Errorf("ytlive: %s failed %d times: %w", stage, s.failures, err)
	}
	log.Printf("ytlive: %s error (attempt %d): %v", stage, s.failures, err)
	if !sleepContext(ctx, s.backoff) {
		return ctx.Err()
	}
	s.backoff *= 2
	if s.backoff > maxBackoff {
		s.backoff = maxBackoff
	}
	return nil
}

func (s *Source) bootstrap(ctx context.Context) error {
	chatURL := baseURL + "/live_chat?" + url.Values{"is_popout": {"1"}, "v": {s.videoID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, chatURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return err
	}
	text := string(body)

	apiKey := quotedValue(text, "INNERTUBE_API_KEY")
	clientVersion := quotedValue(text, "INNERTUBE_CLIENT_VERSION")
	if apiKey == "" || clientVersion == "" {
		return errors.New("ytlive: could not locate api key or client version")
	}

	initJSON, ok := embeddedJSON(text, "ytInitialData")
	if !ok {
		return fmt.Errorf("%w: no initial data for %s", ErrChatUnavailable, s.videoID)
	}

	cont, _ := continuationOf(gjson.Get(initJSON, "contents.liveChatRenderer.continuations"))
	if cont == "" {
		return fmt.Errorf("%w: no continuation for %s", ErrChatUnavailable, s.videoID)
	}

	s.apiKey, s.clientVersion, s.continuation = apiKey, clientVersion, cont
	log.Printf("ytlive: bootstrap succeeded for %s (version=%s)", s.videoID, clientVersion)
	return nil
}

func (s *Source) poll(ctx context.Context) ([]core.RawEvent, string, int, error) {
	endpoint := baseURL + "/youtubei/v1/live_chat/get_live_chat?key=" + url.QueryEscape(s.apiKey)

	payload := map[string]any{
		"context": map[string]any{
			"client": map[string]any{
				"clientName":    "WEB",
				"clientVersion": s.clientVersion,
				"hl":            "en",
				"gl":            "US",
			},
		},
		"continuation": s.continuation,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, "", 0, fmt.Errorf("ytlive: poll status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, "", 0, err
	}
	if !gjson.ValidBytes(body) {
		return nil, "", 0, errors.New("ytlive: poll response is not valid JSON")
	}

	chat := gjson.GetBytes(body, "continuationContents.liveChatContinuation")
	cont, timeout := continuationOf(chat.Get("continuations"))
	return extractEvents(chat.Get("actions")), cont, timeout, nil
}

// continuationOf returns the first continuation token and its timeout from a
// continuations array.
func continuationOf(continuations gjson.Result) (string, int) {
	var (
		cont    string
		timeout int
	)
	continuations.ForEach(func(_, entry gjson.Result) bool {
		entry.ForEach(func(key, data gjson.Result) bool {
			if !strings.HasSuffix(key.String(), "ContinuationData") {
				return true
			}
			if c := data.Get("continuation").String(); c != "" {
				cont = c
				timeout = int(data.Get("timeoutMs").Int())
				return false
			}
			return true
		})
		return cont == ""
	})
	return cont, timeout
}

// extractEvents walks poll actions in order and wraps every exported renderer.
func extractEvents(actions gjson.Result) []core.RawEvent {
	var events []core.RawEvent
	addItem := func(item gjson.Result) {
		item.ForEach(func(key, renderer gjson.Result) bool {
			if kind, ok := rendererKinds[key.String()]; ok {
				events = append(events, newEvent(kind, renderer))
			}
			return true
		})
	}
	actions.ForEach(func(_, action gjson.Result) bool {
		if item := action.Get("addChatItemAction.item"); item.Exists() {
			addItem(item)
		}
		action.Get("appendContinuationItemsAction.continuationItems").ForEach(func(_, item gjson.Result) bool {
			if nested := item.Get("addChatItemAction.item"); nested.Exists() {
				addItem(nested)
				return true
			}
			addItem(item)
			return true
		})
		return true
	})
	return events
}

// nextLivePollDelay honours the server requested timeout when present.
func nextLivePollDelay(timeoutMS int, fallback time.Duration) time.Duration {
	if timeoutMS > 0 {
		return time.Duration(timeoutMS) * time.Millisecond
	}
	return fallback
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
