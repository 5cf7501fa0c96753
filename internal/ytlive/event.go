package ytlive

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/you/ytchat-export/internal/core"
)

// rendererKinds maps the chat item renderers we export to event kinds. Other
// renderers (tickers, placeholders, engagement notices) are skipped.
var rendererKinds = map[string]string{
	"liveChatTextMessageRenderer":    core.KindTextMessage,
	"liveChatPaidMessageRenderer":    core.KindSuperChat,
	"liveChatPaidStickerRenderer":    core.KindSuperSticker,
	"liveChatMembershipItemRenderer": core.KindNewSponsor,
}

// event is a core.RawEvent backed by the renderer JSON. Fields are decoded
// lazily on access.
type event struct {
	kind     string
	renderer gjson.Result
}

func newEvent(kind string, renderer gjson.Result) core.RawEvent {
	return event{kind: kind, renderer: renderer}
}

func (e event) Kind() string { return e.kind }

func (e event) ID() string { return e.renderer.Get("id").String() }

func (e event) Author() core.Author {
	r := e.renderer
	a := core.Author{
		Name:     text(r.Get("authorName")),
		ID:       r.Get("authorExternalChannelId").String(),
		ImageURL: lastThumbnail(r.Get("authorPhoto.thumbnails")),
	}
	r.Get("authorBadges").ForEach(func(_, badge gjson.Result) bool {
		b := badge.Get("liveChatAuthorBadgeRenderer")
		if custom := b.Get("customThumbnail.thumbnails"); custom.Exists() {
			a.IsSponsor = true
			if a.BadgeURL == "" {
				a.BadgeURL = lastThumbnail(custom)
			}
			return true
		}
		switch b.Get("icon.iconType").String() {
		case "OWNER":
			a.IsChatOwner = true
		case "MODERATOR":
			a.IsModerator = true
		case "VERIFIED", "CHECK_CIRCLE_THICK":
			a.IsVerified = true
		}
		return true
	})
	return a
}

func (e event) Contents() []core.ContentItem {
	msg := e.renderer.Get("message")
	if !msg.Exists() {
		msg = e.renderer.Get("headerSubtext")
	}
	if simple := msg.Get("simpleText"); simple.Exists() {
		return []core.ContentItem{core.TextItem(simple.String())}
	}
	var items []core.ContentItem
	msg.Get("runs").ForEach(func(_, run gjson.Result) bool {
		if emoji := run.Get("emoji"); emoji.Exists() {
			items = append(items, core.EmojiItem(
				emoji.Get("emojiId").String(),
				lastThumbnail(emoji.Get("image.thumbnails")),
			))
			return true
		}
		items = append(items, core.TextItem(run.Get("text").String()))
		return true
	})
	return items
}

func (e event) Timestamp() string { return e.renderer.Get("timestampUsec").String() }

func (e event) Amount() string { return text(e.renderer.Get("purchaseAmountText")) }

func (e event) Sticker() string { return lastThumbnail(e.renderer.Get("sticker.thumbnails")) }

func (e event) Color(field core.ColorField) (int64, bool) {
	v := e.renderer.Get(string(field))
	if !v.Exists() {
		return 0, false
	}
	return v.Int(), true
}

// text flattens a simpleText or runs node.
func text(node gjson.Result) string {
	if simple := node.Get("simpleText"); simple.Exists() {
		return simple.String()
	}
	var b strings.Builder
	node.Get("runs").ForEach(func(_, run gjson.Result) bool {
		b.WriteString(run.Get("text").String())
		return true
	})
	return b.String()
}

// lastThumbnail returns the largest thumbnail URL, made absolute.
func lastThumbnail(thumbs gjson.Result) string {
	list := thumbs.Array()
	if len(list) == 0 {
		return ""
	}
	u := list[len(list)-1].Get("url").String()
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	return u
}
