package export

import (
	"encoding/json"

	"github.com/you/ytchat-export/internal/core"
)

// Record is the JSON shape of one message. It is shared by the JSON export,
// the archive and the live tail.
type Record struct {
	Author        string             `json:"author"`
	AuthorImage   string             `json:"author_image"`
	ID            string             `json:"id"`
	BadgeURL      string             `json:"badge_url"`
	Attributes    Attributes         `json:"attributes"`
	Contents      []core.ContentItem `json:"contents"`
	TimestampText string             `json:"timestamp_text"`
	Timestamp     int64              `json:"timestamp"`
	Type          string             `json:"type"`
	Renderer      *Renderer          `json:"renderer,omitempty"`
}

type Attributes struct {
	IsSponsor   bool `json:"is_sponsor"`
	IsModerator bool `json:"is_moderator"`
	IsVerified  bool `json:"is_verified"`
	IsChatOwner bool `json:"is_chat_owner"`
}

// Renderer carries the paid message styling.
type Renderer struct {
	AuthorNameColor core.RGB  `json:"author_name_color_rgb"`
	CurrencyAmount  string    `json:"currency_amount"`
	CurrencyColor   core.RGB  `json:"currency_color_rgb"`
	BodyColor       core.RGB  `json:"body_color_rgb"`
	HeaderColor     *core.RGB `json:"header_color_rgb,omitempty"`
	MessageColor    *core.RGB `json:"message_color,omitempty"`
	TimestampColor  *core.RGB `json:"timestamp_color,omitempty"`
	Sticker         string    `json:"sticker,omitempty"`
}

func NewRecord(msg core.Message) Record {
	contents := msg.Contents
	if contents == nil {
		contents = []core.ContentItem{}
	}
	rec := Record{
		Author:      msg.Author.Name,
		AuthorImage: msg.Author.ImageURL,
		ID:          msg.Author.ID,
		BadgeURL:    msg.Author.BadgeURL,
		Attributes: Attributes{
			IsSponsor:   msg.Author.IsSponsor,
			IsModerator: msg.Author.IsModerator,
			IsVerified:  msg.Author.IsVerified,
			IsChatOwner: msg.Author.IsChatOwner,
		},
		Contents:      contents,
		TimestampText: msg.DisplayTime(),
		Timestamp:     msg.Timestamp.Unix(),
		Type:          msg.Variant.String(),
	}

	switch {
	case msg.SuperChat != nil:
		sc := msg.SuperChat
		header, message, ts := sc.HeaderColor, sc.MessageColor, sc.TimestampColor
		rec.Renderer = &Renderer{
			AuthorNameColor: sc.AuthorNameColor,
			CurrencyAmount:  sc.Amount,
			CurrencyColor:   sc.CurrencyColor,
			BodyColor:       sc.BodyColor,
			HeaderColor:     &header,
			MessageColor:    &message,
			TimestampColor:  &ts,
		}
	case msg.SuperSticker != nil:
		ss := msg.SuperSticker
		rec.Renderer = &Renderer{
			AuthorNameColor: ss.AuthorNameColor,
			CurrencyAmount:  ss.Amount,
			CurrencyColor:   ss.CurrencyColor,
			BodyColor:       ss.BodyColor,
			Sticker:         ss.Sticker,
		}
	}
	return rec
}

// JSONFormat writes each unit as a JSON array of records.
type JSONFormat struct{}

func (JSONFormat) Name() string      { return JSON }
func (JSONFormat) Extension() string { return "json" }

func (JSONFormat) NewDocument(Unit) Document {
	return &jsonDocument{records: []Record{}}
}

type jsonDocument struct {
	records []Record
}

func (d *jsonDocument) Add(msg core.Message) error {
	d.records = append(d.records, NewRecord(msg))
	return nil
}

func (d *jsonDocument) Len() int { return len(d.records) }

func (d *jsonDocument) Bytes() ([]byte, error) {
	return json.Marshal(d.records)
}
