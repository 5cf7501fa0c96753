// Package classify turns raw live chat events into typed core.Message values.
package classify

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/you/ytchat-export/internal/core"
)

const sourceLayout = "2006-01-02 15:04:05"

// ErrMalformed marks a raw event that cannot be turned into a message.
var ErrMalformed = errors.New("classify: malformed raw event")

// Observer is notified after every classification.
type Observer interface {
	Observe(msg core.Message, processed int64)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(msg core.Message, processed int64)

func (f ObserverFunc) Observe(msg core.Message, processed int64) { f(msg, processed) }

type Classifier struct {
	observers []Observer
	processed atomic.Int64
	now       func() time.Time
}

func New(observers ...Observer) *Classifier {
	return &Classifier{observers: observers, now: time.Now}
}

// Processed returns the number of messages classified so far.
func (c *Classifier) Processed() int64 {
	return c.processed.Load()
}

// Classify maps one raw event to exactly one message variant. Unknown kinds fall
// back to a plain message.
func (c *Classifier) Classify(raw core.RawEvent) core.Message {
	author := raw.Author()
	msg := core.Message{
		Variant:   core.VariantPlain,
		Author:    author,
		Contents:  normalizeContents(raw.Contents()),
		Timestamp: ParseTimestamp(raw.Timestamp(), c.now()),
	}

	kind := raw.Kind()
	switch {
	case strings.HasPrefix(kind, "super"):
		if kind == core.KindSuperChat {
			msg.Variant = core.VariantSuperChat
			msg.SuperChat = &core.SuperChat{
				Amount:          raw.Amount(),
				AuthorNameColor: color(raw, core.ColorAuthorNameText),
				CurrencyColor:   color(raw, core.ColorHeaderText),
				HeaderColor:     color(raw, core.ColorHeaderBackground),
				BodyColor:       color(raw, core.ColorBodyBackground),
				TimestampColor:  color(raw, core.ColorTimestamp),
				MessageColor:    color(raw, core.ColorBodyText),
			}
		} else {
			msg.Variant = core.VariantSuperSticker
			msg.SuperSticker = &core.SuperSticker{
				Amount:          raw.Amount(),
				Sticker:         raw.Sticker(),
				AuthorNameColor: color(raw, core.ColorAuthorNameText),
				CurrencyColor:   color(raw, core.ColorMoneyChipText),
				BodyColor:       color(raw, core.ColorBackground),
			}
		}
	case kind == core.KindNewSponsor:
		msg.Variant = core.VariantNewSponsor
	}

	processed := c.processed.Add(1)
	for _, o := range c.observers {
		o.Observe(msg, processed)
	}
	return msg
}

// TryClassify is Classify guarded against malformed events: a nil event, one
// without any author identity, or one whose accessors panic yields ErrMalformed
// and leaves the counter untouched.
func (c *Classifier) TryClassify(raw core.RawEvent) (msg core.Message, err error) {
	if raw == nil {
		return core.Message{}, fmt.Errorf("%w: nil event", ErrMalformed)
	}
	defer func() {
		if r := recover(); r != nil {
			msg = core.Message{}
			err = fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()
	author := raw.Author()
	if strings.TrimSpace(author.ID) == "" && strings.TrimSpace(author.Name) == "" {
		return core.Message{}, fmt.Errorf("%w: missing author", ErrMalformed)
	}
	return c.Classify(raw), nil
}

// DecodeColor splits a packed 0xRRGGBB provider color. Alpha bits are ignored.
func DecodeColor(packed int64) core.RGB {
	return core.RGB{
		R: uint8((packed >> 16) & 0xFF),
		G: uint8((packed >> 8) & 0xFF),
		B: uint8(packed & 0xFF),
	}
}

// ParseTimestamp accepts microseconds since the epoch, "2006-01-02 15:04:05"
// in local time, or RFC 3339. Anything else yields fallback.
func ParseTimestamp(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	if usec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMicro(usec)
	}
	if t, err := time.ParseInLocation(sourceLayout, raw, time.Local); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return fallback
}

func color(raw core.RawEvent, field core.ColorField) core.RGB {
	packed, ok := raw.Color(field)
	if !ok {
		return core.RGB{}
	}
	return DecodeColor(packed)
}

func normalizeContents(items []core.ContentItem) []core.ContentItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]core.ContentItem, 0, len(items))
	for _, item := range items {
		if !item.IsEmoji() && item.Text == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
