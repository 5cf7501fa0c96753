package assets

import "github.com/you/ytchat-export/internal/core"

// Extractor lists the images a message references that have not been seen yet
// in this session. It is owned by a single stage and is not safe for concurrent
// use.
type Extractor struct {
	seen map[string]struct{}
}

func NewExtractor() *Extractor {
	return &Extractor{seen: make(map[string]struct{})}
}

// Extract returns the unseen references of msg and marks their URLs as seen.
// References with an empty URL are ignored.
func (e *Extractor) Extract(msg core.Message) []Reference {
	var out []Reference
	add := func(ref Reference) {
		if ref.URL == "" {
			return
		}
		if _, ok := e.seen[ref.URL]; ok {
			return
		}
		e.seen[ref.URL] = struct{}{}
		out = append(out, ref)
	}

	add(ProfileReference(msg.Author))
	add(BadgeReference(msg.Author.BadgeURL))
	if msg.SuperSticker != nil {
		add(StickerReference(msg.SuperSticker.Sticker))
	}
	for _, item := range msg.Contents {
		if item.IsEmoji() {
			add(EmojiReference(item))
		}
	}
	return out
}

// Seen returns the number of distinct URLs queued so far.
func (e *Extractor) Seen() int {
	return len(e.seen)
}
