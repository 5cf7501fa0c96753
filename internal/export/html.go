package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"

	"github.com/pkg/errors"

	"github.com/you/ytchat-export/internal/assets"
	"github.com/you/ytchat-export/internal/core"
)

//go:embed templates/*.tmpl static/*
var files embed.FS

var templates = template.Must(template.ParseFS(files, "templates/*.tmpl"))

type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

const (
	modIcon      = "mod-icon.svg"
	verifiedIcon = "verified-icon.svg"
)

// HTMLFormat renders one standalone document per unit. Every variant has its
// own block layout.
type HTMLFormat struct {
	theme    Theme
	resolver assets.Resolver
}

func NewHTML(theme Theme, resolver assets.Resolver) *HTMLFormat {
	return &HTMLFormat{theme: theme, resolver: resolver}
}

func (f *HTMLFormat) Name() string {
	if f.theme == ThemeLight {
		return LightHTML
	}
	return DarkHTML
}

func (f *HTMLFormat) Extension() string { return "html" }

func (f *HTMLFormat) Stylesheet() string {
	return assets.Dir + "/style-" + string(f.theme) + ".css"
}

// Prepare writes the theme stylesheet and the built-in badge icons.
func (f *HTMLFormat) Prepare(target Target) error {
	css, err := files.ReadFile("static/style-" + string(f.theme) + ".css")
	if err != nil {
		return errors.Wrap(err, "read stylesheet")
	}
	if err := target.Write(f.Stylesheet(), css); err != nil {
		return err
	}
	for _, icon := range []string{modIcon, verifiedIcon} {
		data, err := files.ReadFile("static/" + icon)
		if err != nil {
			return errors.Wrapf(err, "read %s", icon)
		}
		if err := target.Write(assets.Dir+"/"+string(assets.Badges)+"/"+icon, data); err != nil {
			return err
		}
	}
	return nil
}

func (f *HTMLFormat) NewDocument(unit Unit) Document {
	return &htmlDocument{format: f, unit: unit}
}

type htmlDocument struct {
	format *HTMLFormat
	unit   Unit
	body   bytes.Buffer
	n      int
}

func (d *htmlDocument) Add(msg core.Message) error {
	if err := templates.ExecuteTemplate(&d.body, "message", d.format.view(msg)); err != nil {
		return err
	}
	d.n++
	return nil
}

func (d *htmlDocument) Len() int { return d.n }

func (d *htmlDocument) Bytes() ([]byte, error) {
	var out bytes.Buffer
	err := templates.ExecuteTemplate(&out, "document", documentView{
		Title:      d.unit.Title,
		Stylesheet: d.format.Stylesheet(),
		Body:       template.HTML(d.body.String()),
	})
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

type documentView struct {
	Title      string
	Stylesheet string
	Body       template.HTML
}

type contentView struct {
	Text  string
	Emoji string
	Alt   string
}

type messageView struct {
	Kind         string
	Author       string
	Avatar       string
	Time         string
	Badges       []string
	AuthorClass  string
	Owner        bool
	Contents     []contentView
	Amount       string
	Sticker      string
	BodyStyle    template.CSS
	HeaderStyle  template.CSS
	NameStyle    template.CSS
	TimeStyle    template.CSS
	AmountStyle  template.CSS
	MessageStyle template.CSS
}

func (f *HTMLFormat) view(msg core.Message) messageView {
	v := messageView{
		Author: msg.Author.Name,
		Avatar: f.resolver.Avatar(msg.Author),
		Time:   msg.DisplayTime(),
		Owner:  msg.Author.IsChatOwner,
		Amount: msg.Amount(),
	}

	var classes []string
	badgeDir := assets.Dir + "/" + string(assets.Badges) + "/"
	if msg.Author.IsVerified {
		classes = append(classes, "special_icon")
		v.Badges = append(v.Badges, badgeDir+verifiedIcon)
	}
	if msg.Author.IsModerator {
		classes = appendUnique(classes, "special_icon", "mod")
		v.Badges = append(v.Badges, badgeDir+modIcon)
	}
	if msg.Author.IsSponsor {
		classes = appendUnique(classes, "special_icon", "member")
		if msg.Author.BadgeURL != "" {
			v.Badges = append(v.Badges, f.resolver.Badge(msg.Author.BadgeURL))
		}
	}
	v.AuthorClass = strings.Join(classes, " ")

	for _, item := range msg.Contents {
		if item.IsEmoji() {
			v.Contents = append(v.Contents, contentView{Emoji: f.resolver.Emoji(item), Alt: item.EmojiID})
			continue
		}
		v.Contents = append(v.Contents, contentView{Text: item.Text})
	}

	switch msg.Variant {
	case core.VariantSuperChat:
		sc := msg.SuperChat
		if sc == nil {
			sc = &core.SuperChat{}
		}
		v.Kind = "superchat"
		v.BodyStyle = background(sc.BodyColor)
		v.HeaderStyle = background(sc.HeaderColor)
		v.NameStyle = foreground(sc.AuthorNameColor.CSS())
		v.TimeStyle = foreground(sc.TimestampColor.CSSAlpha(0.6))
		v.AmountStyle = foreground(sc.CurrencyColor.CSS())
		v.MessageStyle = foreground(sc.MessageColor.CSS())
	case core.VariantSuperSticker:
		ss := msg.SuperSticker
		if ss == nil {
			ss = &core.SuperSticker{}
		}
		v.Kind = "supersticker"
		v.Sticker = f.resolver.Sticker(ss.Sticker)
		v.BodyStyle = background(ss.BodyColor)
		v.NameStyle = foreground(ss.AuthorNameColor.CSS())
		v.TimeStyle = foreground(ss.AuthorNameColor.CSSAlpha(0.6))
		v.AmountStyle = foreground(ss.CurrencyColor.CSS())
	case core.VariantNewSponsor:
		v.Kind = "new_member"
	default:
		v.Kind = "message"
	}
	return v
}

func background(c core.RGB) template.CSS {
	return template.CSS("background: " + c.CSS() + ";")
}

func foreground(css string) template.CSS {
	return template.CSS("color: " + css + ";")
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}
