package export

import (
	"bytes"
	"strings"

	"github.com/you/ytchat-export/internal/core"
)

// PlainTextFormat writes one line per message:
//
//	<time> <author>[ [tag, tag]]: <text>
//
// Emojis are dropped.
type PlainTextFormat struct{}

func (PlainTextFormat) Name() string      { return PlainText }
func (PlainTextFormat) Extension() string { return "txt" }

func (PlainTextFormat) NewDocument(Unit) Document {
	return &textDocument{}
}

// Line renders a single message without the trailing newline.
func Line(msg core.Message) string {
	var b strings.Builder
	b.WriteString(msg.DisplayTime())
	b.WriteByte(' ')
	b.WriteString(msg.Author.Name)
	if tags := Tags(msg); len(tags) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(tags, ", "))
		b.WriteByte(']')
	}
	b.WriteString(": ")
	b.WriteString(msg.PlainText())
	return b.String()
}

// Tags lists the author and payment labels of msg in display order.
func Tags(msg core.Message) []string {
	var tags []string
	a := msg.Author
	if a.IsVerified {
		tags = append(tags, "verified")
	}
	if a.IsChatOwner {
		tags = append(tags, "owner")
	}
	if a.IsModerator {
		tags = append(tags, "moderator")
	}
	if a.IsSponsor {
		if msg.Variant == core.VariantNewSponsor {
			tags = append(tags, "new/upgraded membership")
		} else {
			tags = append(tags, "member")
		}
	}
	switch msg.Variant {
	case core.VariantSuperChat:
		tags = append(tags, "superchat: "+msg.Amount())
	case core.VariantSuperSticker:
		tags = append(tags, "supersticker: "+msg.Amount())
	}
	return tags
}

type textDocument struct {
	buf bytes.Buffer
	n   int
}

func (d *textDocument) Add(msg core.Message) error {
	d.buf.WriteString(Line(msg))
	d.buf.WriteByte('\n')
	d.n++
	return nil
}

func (d *textDocument) Len() int { return d.n }

func (d *textDocument) Bytes() ([]byte, error) {
	return d.buf.Bytes(), nil
}
