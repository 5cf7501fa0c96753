package ytlive

import (
	"encoding/json"
	"html"
	"regexp"
	"strings"
)

// embeddedJSON finds the first object assigned to marker in a YouTube page,
// accepting `var marker = {`, `window["marker"] = {` and `"marker":{` forms.
func embeddedJSON(page, marker string) (string, bool) {
	for offset := 0; ; {
		idx := strings.Index(page[offset:], marker)
		if idx < 0 {
			return "", false
		}
		pos := offset + idx + len(marker)
		offset = pos

		pos = skip(page, pos, "\"'] \t\r\n")
		if pos >= len(page) || (page[pos] != '=' && page[pos] != ':') {
			continue
		}
		pos = skip(page, pos+1, " \t\r\n")
		if pos >= len(page) || page[pos] != '{' {
			continue
		}

		var obj json.RawMessage
		if err := json.NewDecoder(strings.NewReader(page[pos:])).Decode(&obj); err != nil {
			continue
		}
		return string(obj), true
	}
}

func skip(s string, pos int, chars string) int {
	for pos < len(s) && strings.IndexByte(chars, s[pos]) >= 0 {
		pos++
	}
	return pos
}

// quotedValue returns the string value of "key":"value" in page.
func quotedValue(page, key string) string {
	marker := `"` + key + `":"`
	idx := strings.Index(page, marker)
	if idx < 0 {
		return ""
	}
	rest := page[idx+len(marker):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return ""
	}
	return rest[:end]
}

var metaTitlePattern = regexp.MustCompile(`<meta name="title" content="([^"]*)"`)

func metaTitle(page string) string {
	if m := metaTitlePattern.FindStringSubmatch(page); m != nil {
		return html.UnescapeString(m[1])
	}
	return ""
}

// looksLive reports whether a watch page advertises a running broadcast or a
// chat frame.
func looksLive(page string) bool {
	text := strings.ToLower(strings.ReplaceAll(page, `\/`, "/"))
	for _, hint := range []string{`"islivenow":true`, `"islive":true`, "livechatrenderer", "/live_chat?"} {
		if strings.Contains(text, hint) {
			return true
		}
	}
	return false
}
