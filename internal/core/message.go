package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DisplayLayout is the fixed, locale independent timestamp format used by every
// output format.
const DisplayLayout = "1/2/2006 3:04 PM"

// Variant discriminates the closed set of message kinds.
type Variant int

const (
	VariantPlain Variant = iota
	VariantSuperChat
	VariantSuperSticker
	VariantNewSponsor
)

func (v Variant) String() string {
	switch v {
	case VariantSuperChat:
		return "SuperChat"
	case VariantSuperSticker:
		return "SuperSticker"
	case VariantNewSponsor:
		return "NewSponsor"
	default:
		return "Message"
	}
}

// RGB is a decoded provider color.
type RGB struct {
	R, G, B uint8
}

func (c RGB) CSS() string {
	return fmt.Sprintf("rgb(%d, %d, %d)", c.R, c.G, c.B)
}

func (c RGB) CSSAlpha(alpha float64) string {
	return fmt.Sprintf("rgba(%d, %d, %d, %g)", c.R, c.G, c.B, alpha)
}

func (c RGB) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]int{int(c.R), int(c.G), int(c.B)})
}

func (c *RGB) UnmarshalJSON(data []byte) error {
	var rgb [3]uint8
	if err := json.Unmarshal(data, &rgb); err != nil {
		return err
	}
	*c = RGB{R: rgb[0], G: rgb[1], B: rgb[2]}
	return nil
}

// ContentItem is either a text span or an emoji reference.
type ContentItem struct {
	Text     string
	EmojiID  string
	EmojiURL string
}

func TextItem(text string) ContentItem {
	return ContentItem{Text: text}
}

func EmojiItem(id, url string) ContentItem {
	return ContentItem{EmojiID: id, EmojiURL: url}
}

func (c ContentItem) IsEmoji() bool {
	return c.EmojiID != "" || c.EmojiURL != ""
}

// MarshalJSON encodes text spans as strings and emojis as [id, url] pairs.
func (c ContentItem) MarshalJSON() ([]byte, error) {
	if c.IsEmoji() {
		return json.Marshal([2]string{c.EmojiID, c.EmojiURL})
	}
	return json.Marshal(c.Text)
}

func (c *ContentItem) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = TextItem(text)
		return nil
	}
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("content item: %w", err)
	}
	*c = EmojiItem(pair[0], pair[1])
	return nil
}

// Author carries the identity and attributes shared by every variant.
type Author struct {
	Name     string
	ID       string
	ImageURL string
	BadgeURL string

	IsSponsor   bool
	IsModerator bool
	IsVerified  bool
	IsChatOwner bool
}

// SuperChat holds the paid message styling.
type SuperChat struct {
	Amount          string
	AuthorNameColor RGB
	CurrencyColor   RGB
	TimestampColor  RGB
	MessageColor    RGB
	HeaderColor     RGB
	BodyColor       RGB
}

// SuperSticker holds the paid sticker styling.
type SuperSticker struct {
	Amount          string
	Sticker         string
	AuthorNameColor RGB
	CurrencyColor   RGB
	BodyColor       RGB
}

// Message is the classified record. Every variant carries the full base shape;
// SuperChat and SuperSticker are set only for their respective variants.
// A Message is never mutated once it has been published.
type Message struct {
	Variant   Variant
	Author    Author
	Contents  []ContentItem
	Timestamp time.Time

	SuperChat    *SuperChat
	SuperSticker *SuperSticker
}

// PlainText concatenates the text spans, dropping emojis.
func (m Message) PlainText() string {
	var b strings.Builder
	for _, item := range m.Contents {
		if !item.IsEmoji() {
			b.WriteString(item.Text)
		}
	}
	return b.String()
}

func (m Message) DisplayTime() string {
	return m.Timestamp.Format(DisplayLayout)
}

// Amount returns the paid amount for SuperChat and SuperSticker messages.
func (m Message) Amount() string {
	switch {
	case m.SuperChat != nil:
		return m.SuperChat.Amount
	case m.SuperSticker != nil:
		return m.SuperSticker.Amount
	}
	return ""
}
