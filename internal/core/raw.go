package core

// Event kinds reported by the live chat source.
const (
	KindTextMessage  = "textMessage"
	KindSuperChat    = "superChat"
	KindSuperSticker = "superSticker"
	KindNewSponsor   = "newSponsor"
)

// ColorField names a packed provider color on a paid event.
type ColorField string

const (
	ColorAuthorNameText   ColorField = "authorNameTextColor"
	ColorHeaderBackground ColorField = "headerBackgroundColor"
	ColorHeaderText       ColorField = "headerTextColor"
	ColorBodyBackground   ColorField = "bodyBackgroundColor"
	ColorBodyText         ColorField = "bodyTextColor"
	ColorTimestamp        ColorField = "timestampColor"
	ColorMoneyChipText    ColorField = "moneyChipTextColor"
	ColorBackground       ColorField = "backgroundColor"
)

// RawEvent is the capability set the classifier needs from an unparsed source
// record. Implementations return zero values for absent fields.
type RawEvent interface {
	Kind() string
	Author() Author
	Contents() []ContentItem
	// Timestamp is the provider timestamp: microseconds since the epoch or
	// "2006-01-02 15:04:05".
	Timestamp() string
	Amount() string
	Sticker() string
	Color(field ColorField) (int64, bool)
}

// Event is a plain RawEvent used by sources that decode eagerly and by tests.
type Event struct {
	EventKind     string
	EventAuthor   Author
	EventContents []ContentItem
	EventTime     string
	EventAmount   string
	EventSticker  string
	Colors        map[ColorField]int64
}

func (e Event) Kind() string            { return e.EventKind }
func (e Event) Author() Author          { return e.EventAuthor }
func (e Event) Contents() []ContentItem { return e.EventContents }
func (e Event) Timestamp() string       { return e.EventTime }
func (e Event) Amount() string          { return e.EventAmount }
func (e Event) Sticker() string         { return e.EventSticker }

func (e Event) Color(field ColorField) (int64, bool) {
	v, ok := e.Colors[field]
	return v, ok
}
