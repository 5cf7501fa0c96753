// Package assets extracts the images referenced by chat messages, resolves
// where the HTML export should point at them, and downloads each distinct image
// once per session.
package assets

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"github.com/you/ytchat-export/internal/core"
)

// Category is the asset subdirectory an image is stored under.
type Category string

const (
	ProfilePictures Category = "profile_pictures"
	Badges          Category = "badges"
	SuperStickers   Category = "superstickers"
	Emojis          Category = "emojis"
)

var Categories = []Category{ProfilePictures, Badges, SuperStickers, Emojis}

// Dir is the asset root relative to the output directory.
const Dir = "assets"

// Reference identifies one image to materialize.
type Reference struct {
	URL      string
	Name     string
	Category Category
	// Sanitize reduces Name to its alphanumerics. Badge and sticker names are
	// full URLs.
	Sanitize bool
}

// FileName is the on-disk name, always with a .png extension.
func (r Reference) FileName() string {
	name := r.Name
	if r.Sanitize {
		name = Sanitize(name)
	} else {
		name = CleanName(name)
	}
	return name + ".png"
}

// RelPath is the slash-separated path relative to the output directory.
func (r Reference) RelPath() string {
	return Dir + "/" + string(r.Category) + "/" + r.FileName()
}

// Path is the local path under root.
func (r Reference) Path(root string) string {
	return filepath.Join(root, Dir, string(r.Category), r.FileName())
}

func ProfileReference(a core.Author) Reference {
	return Reference{URL: a.ImageURL, Name: a.ID, Category: ProfilePictures}
}

func BadgeReference(url string) Reference {
	return Reference{URL: url, Name: url, Category: Badges, Sanitize: true}
}

func StickerReference(url string) Reference {
	return Reference{URL: url, Name: url, Category: SuperStickers, Sanitize: true}
}

func EmojiReference(item core.ContentItem) Reference {
	return Reference{URL: item.EmojiURL, Name: item.EmojiID, Category: Emojis}
}

// Sanitize keeps only the letters and digits of s, in order.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// CleanName strips path separators so s can be used as a single path element.
func CleanName(s string) string {
	return strings.NewReplacer("/", "", "\\", "").Replace(s)
}

// Provision creates every asset category directory under root.
func Provision(root string) error {
	for _, c := range Categories {
		if err := os.MkdirAll(filepath.Join(root, Dir, string(c)), 0o755); err != nil {
			return errors.Wrapf(err, "create %s directory", c)
		}
	}
	return nil
}
