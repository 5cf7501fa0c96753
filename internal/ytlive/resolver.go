package ytlive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Video describes the stream a user asked for.
type Video struct {
	ID       string
	Title    string
	Live     bool
	WatchURL string
	ChatURL  string
}

// Resolver turns a video id, watch URL, youtu.be link or channel handle into
// the video it points at, with its title.
type Resolver struct {
	http *http.Client
}

// NewResolver uses client, or a client with a 10s timeout when nil.
func NewResolver(client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Resolver{http: client}
}

// Resolve fetches the watch page for raw. A page without a recognizable video
// is an error; a video that is not live is returned with Live unset.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Video, error) {
	target, err := normalizeTarget(raw)
	if err != nil {
		return Video{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Video{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	resp, err := r.http.Do(req)
	if err != nil {
		return Video{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Video{}, fmt.Errorf("ytlive: resolve status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return Video{}, err
	}
	page := string(body)

	v, ok := playerVideo(page)
	if !ok {
		// Handle pages redirect to the watch page of the running stream.
		final := resp.Request.URL
		v.ID = strings.TrimSpace(final.Query().Get("v"))
		if v.ID == "" || !strings.EqualFold(final.Path, "/watch") {
			return Video{}, fmt.Errorf("ytlive: no video found for %q", raw)
		}
		v.Live = looksLive(page)
	}
	if v.Title == "" {
		v.Title = metaTitle(page)
	}
	v.WatchURL = pageURL("/watch", v.ID).String()
	if v.Live {
		v.ChatURL = pageURL("/live_chat", v.ID).String()
	}
	return v, nil
}

// playerVideo reads videoDetails from the page's player response, either at
// the root or nested under playerResponse.
func playerVideo(page string) (Video, bool) {
	for _, marker := range []string{"ytInitialPlayerResponse", "ytInitialData"} {
		raw, ok := embeddedJSON(page, marker)
		if !ok {
			continue
		}
		root := gjson.Parse(raw)
		if nested := root.Get("playerResponse"); nested.IsObject() {
			root = nested
		}
		details := root.Get("videoDetails")
		id := strings.TrimSpace(details.Get("videoId").String())
		if id == "" {
			continue
		}
		live := details.Get("isLive").Bool() || details.Get("isLiveContent").Bool() ||
			(root.Get("streamingData").Exists() && root.Get("playabilityStatus.liveStreamability").Exists())
		return Video{ID: id, Title: details.Get("title").String(), Live: live}, true
	}
	return Video{}, false
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Path prefixes that carry the video id as their next segment.
var idPaths = []string{"/live/", "/shorts/", "/embed/"}

// normalizeTarget maps what a user typed to the YouTube page to fetch: a
// watch page for anything naming a video, or /@handle/live for a channel.
func normalizeTarget(raw string) (*url.URL, error) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return nil, errors.New("ytlive: empty video reference")
	case videoIDPattern.MatchString(s):
		return pageURL("/watch", s), nil
	case strings.HasPrefix(s, "@"):
		s = "https://www.youtube.com/" + s
	case !strings.Contains(s, "://"):
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("ytlive: parse url: %w", err)
	}

	switch strings.ToLower(u.Host) {
	case "youtu.be":
		if id := strings.Trim(u.Path, "/"); id != "" {
			return pageURL("/watch", id), nil
		}
		return nil, errors.New("ytlive: missing video id in youtu.be url")
	case "youtube.com", "www.youtube.com", "m.youtube.com":
	default:
		return nil, fmt.Errorf("ytlive: unsupported host %q", u.Host)
	}

	p := u.Path
	if strings.HasPrefix(p, "/@") {
		handle := strings.TrimSuffix(strings.TrimSuffix(p, "/"), "/live")
		return &url.URL{Scheme: "https", Host: "www.youtube.com", Path: handle + "/live"}, nil
	}
	if strings.EqualFold(p, "/watch") || strings.EqualFold(p, "/live_chat") {
		if id := strings.TrimSpace(u.Query().Get("v")); id != "" {
			return pageURL("/watch", id), nil
		}
		return nil, errors.New("ytlive: url missing video id")
	}
	for _, prefix := range idPaths {
		if rest, ok := strings.CutPrefix(p, prefix); ok {
			if id, _, _ := strings.Cut(rest, "/"); id != "" {
				return pageURL("/watch", id), nil
			}
		}
	}
	return &url.URL{Scheme: "https", Host: "www.youtube.com", Path: path.Clean(p), RawQuery: u.RawQuery}, nil
}

func pageURL(p, videoID string) *url.URL {
	return &url.URL{
		Scheme:   "https",
		Host:     "www.youtube.com",
		Path:     p,
		RawQuery: url.Values{"v": {videoID}}.Encode(),
	}
}
