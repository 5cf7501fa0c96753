package export

import (
	"fmt"
	"strings"

	"github.com/you/ytchat-export/internal/assets"
	"github.com/you/ytchat-export/internal/core"
)

// Unit describes one output file.
type Unit struct {
	// Index is the partition number, or -1 when the run is not partitioned.
	Index int
	Name  string
	Title string
}

func (u Unit) Partitioned() bool { return u.Index >= 0 }

// Document accumulates rendered messages for one unit.
type Document interface {
	Add(msg core.Message) error
	Len() int
	Bytes() ([]byte, error)
}

// Format renders messages into documents.
type Format interface {
	Name() string
	Extension() string
	NewDocument(unit Unit) Document
}

// Preparer is implemented by formats that need static files in the output
// directory before the first unit is written.
type Preparer interface {
	Prepare(target Target) error
}

// Format names accepted by ForName, compared case-insensitively.
const (
	DarkHTML  = "DarkHtml"
	LightHTML = "LightHtml"
	PlainText = "PlainText"
	JSON      = "JSON"
)

var Names = []string{DarkHTML, LightHTML, PlainText, JSON}

// Canonical returns the canonical spelling of a format name.
func Canonical(name string) (string, bool) {
	for _, n := range Names {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return n, true
		}
	}
	return "", false
}

// ForName builds the named format. resolver only affects the HTML formats.
func ForName(name string, resolver assets.Resolver) (Format, error) {
	canonical, ok := Canonical(name)
	if !ok {
		return nil, fmt.Errorf("export: unknown format %q", name)
	}
	switch canonical {
	case DarkHTML:
		return NewHTML(ThemeDark, resolver), nil
	case LightHTML:
		return NewHTML(ThemeLight, resolver), nil
	case PlainText:
		return PlainTextFormat{}, nil
	default:
		return JSONFormat{}, nil
	}
}

// IsHTML reports whether name selects an image-bearing format.
func IsHTML(name string) bool {
	canonical, _ := Canonical(name)
	return canonical == DarkHTML || canonical == LightHTML
}
