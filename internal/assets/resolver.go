package assets

import "github.com/you/ytchat-export/internal/core"

// Resolver chooses between the remote URL and the downloaded copy of an image
// when rendering.
type Resolver struct {
	Local bool
}

func (r Resolver) resolve(ref Reference) string {
	if !r.Local || ref.URL == "" {
		return ref.URL
	}
	return ref.RelPath()
}

func (r Resolver) Avatar(a core.Author) string {
	return r.resolve(ProfileReference(a))
}

func (r Resolver) Badge(url string) string {
	return r.resolve(BadgeReference(url))
}

func (r Resolver) Sticker(url string) string {
	return r.resolve(StickerReference(url))
}

func (r Resolver) Emoji(item core.ContentItem) string {
	return r.resolve(EmojiReference(item))
}
