// Package sink archives classified chat messages into SQLite.
package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/ytchat-export/internal/core"
	"github.com/you/ytchat-export/internal/export"
)

const schema = `CREATE TABLE IF NOT EXISTS messages (
  session_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  variant TEXT NOT NULL,
  author_id TEXT NOT NULL,
  author_name TEXT NOT NULL,
  author_image_url TEXT NOT NULL DEFAULT '',
  is_sponsor INTEGER NOT NULL DEFAULT 0,
  is_moderator INTEGER NOT NULL DEFAULT 0,
  is_verified INTEGER NOT NULL DEFAULT 0,
  is_chat_owner INTEGER NOT NULL DEFAULT 0,
  badge_url TEXT NOT NULL DEFAULT '',
  contents_json TEXT NOT NULL DEFAULT '[]',
  ts TEXT NOT NULL,
  amount TEXT NOT NULL DEFAULT '',
  sticker TEXT NOT NULL DEFAULT '',
  colors_json TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (session_id, seq)
);`

// Entry is one archived message. Seq numbers messages in arrival order within
// a session.
type Entry struct {
	SessionID string
	Seq       int64
	Message   core.Message
}

type SQLiteSink struct {
	db *sql.DB
}

const defaultListLimit = 100

func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	ctx := context.Background()
	ApplySQLitePragmas(ctx, db)
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

const insertMessage = `INSERT INTO messages (session_id, seq, variant, author_id, author_name, author_image_url,
  is_sponsor, is_moderator, is_verified, is_chat_owner, badge_url, contents_json, ts, amount, sticker, colors_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id, seq) DO NOTHING;`

// Write stores one entry. An entry whose (session, seq) already exists is
// ignored.
func (s *SQLiteSink) Write(e Entry) error {
	args, err := entryArgs(e)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(insertMessage, args...)
	return errors.Wrap(err, "insert message")
}

// WriteBatch stores entries in one transaction. Nothing is stored if any
// entry fails.
func (s *SQLiteSink) WriteBatch(entries []Entry) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin batch")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare(insertMessage)
	if err != nil {
		return errors.Wrap(err, "prepare batch")
	}
	defer stmt.Close()

	for _, e := range entries {
		args, err := entryArgs(e)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(args...); err != nil {
			return errors.Wrapf(err, "insert message %s/%d", e.SessionID, e.Seq)
		}
	}
	return errors.Wrap(tx.Commit(), "commit batch")
}

func entryArgs(e Entry) ([]any, error) {
	rec := export.NewRecord(e.Message)
	contents, err := json.Marshal(rec.Contents)
	if err != nil {
		return nil, errors.Wrap(err, "encode contents")
	}
	var colors []byte
	if rec.Renderer != nil {
		if colors, err = json.Marshal(rec.Renderer); err != nil {
			return nil, errors.Wrap(err, "encode colors")
		}
	}

	msg := e.Message
	var sticker string
	if msg.SuperSticker != nil {
		sticker = msg.SuperSticker.Sticker
	}
	return []any{e.SessionID, e.Seq, msg.Variant.String(), msg.Author.ID, msg.Author.Name,
		msg.Author.ImageURL, msg.Author.IsSponsor, msg.Author.IsModerator, msg.Author.IsVerified,
		msg.Author.IsChatOwner, msg.Author.BadgeURL, string(contents),
		msg.Timestamp.UTC().Format(time.RFC3339Nano), msg.Amount(), sticker, string(colors)}, nil
}

func (s *SQLiteSink) Ping() error {
	return s.db.Ping()
}

func (s *SQLiteSink) String() string {
	return fmt.Sprintf("SQLiteSink{%p}", s.db)
}

// Query narrows ListMessages and CountMessages. Zero values match everything;
// a zero Limit lists the first 100 entries and a negative one lists all.
type Query struct {
	SessionID string
	Variants  []core.Variant
	Limit     int
}

func (s *SQLiteSink) CountMessages(ctx context.Context, q Query) (int64, error) {
	query, args := buildMessageQuery(q, true)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

// ListMessages returns archived entries in session and sequence order.
func (s *SQLiteSink) ListMessages(ctx context.Context, q Query) ([]Entry, error) {
	query, args := buildMessageQuery(q, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                         Entry
			variant, ts, amount       string
			sticker, contents, colors string
			a                         = &e.Message.Author
		)
		if err := rows.Scan(&e.SessionID, &e.Seq, &variant, &a.ID, &a.Name, &a.ImageURL,
			&a.IsSponsor, &a.IsModerator, &a.IsVerified, &a.IsChatOwner, &a.BadgeURL,
			&contents, &ts, &amount, &sticker, &colors); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		if err := decodeEntry(&e.Message, variant, contents, ts, amount, sticker, colors); err != nil {
			return nil, errors.Wrapf(err, "decode message %s/%d", e.SessionID, e.Seq)
		}
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate messages")
	}
	return out, nil
}

// decodeEntry rebuilds a message from its columns. Rows migrated from older
// archives carry an amount but no colors; they decode with zero styling.
func decodeEntry(msg *core.Message, variant, contents, ts, amount, sticker, colors string) error {
	msg.Variant = parseVariant(variant)
	if err := json.Unmarshal([]byte(contents), &msg.Contents); err != nil {
		return errors.Wrap(err, "contents")
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		msg.Timestamp = t
	}

	var r export.Renderer
	if colors != "" {
		if err := json.Unmarshal([]byte(colors), &r); err != nil {
			return errors.Wrap(err, "colors")
		}
	}
	if r.CurrencyAmount == "" {
		r.CurrencyAmount = amount
	}
	if r.Sticker == "" {
		r.Sticker = sticker
	}

	switch msg.Variant {
	case core.VariantSuperChat:
		msg.SuperChat = &core.SuperChat{
			Amount:          r.CurrencyAmount,
			AuthorNameColor: r.AuthorNameColor,
			CurrencyColor:   r.CurrencyColor,
			BodyColor:       r.BodyColor,
		}
		if r.HeaderColor != nil {
			msg.SuperChat.HeaderColor = *r.HeaderColor
		}
		if r.MessageColor != nil {
			msg.SuperChat.MessageColor = *r.MessageColor
		}
		if r.TimestampColor != nil {
			msg.SuperChat.TimestampColor = *r.TimestampColor
		}
	case core.VariantSuperSticker:
		msg.SuperSticker = &core.SuperSticker{
			Amount:          r.CurrencyAmount,
			Sticker:         r.Sticker,
			AuthorNameColor: r.AuthorNameColor,
			CurrencyColor:   r.CurrencyColor,
			BodyColor:       r.BodyColor,
		}
	}
	return nil
}

func parseVariant(s string) core.Variant {
	for _, v := range []core.Variant{core.VariantSuperChat, core.VariantSuperSticker, core.VariantNewSponsor} {
		if v.String() == s {
			return v
		}
	}
	return core.VariantPlain
}

func buildMessageQuery(q Query, count bool) (string, []any) {
	var builder strings.Builder
	if count {
		builder.WriteString("SELECT COUNT(*) FROM messages")
	} else {
		builder.WriteString(`SELECT session_id, seq, variant, author_id, author_name, author_image_url,
  is_sponsor, is_moderator, is_verified, is_chat_owner, badge_url, contents_json, ts, amount, sticker, colors_json
FROM messages`)
	}

	var (
		conditions []string
		args       []any
	)

	if q.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, q.SessionID)
	}

	if len(q.Variants) > 0 {
		placeholders := make([]string, 0, len(q.Variants))
		for _, v := range q.Variants {
			placeholders = append(placeholders, "?")
			args = append(args, v.String())
		}
		conditions = append(conditions, fmt.Sprintf("variant IN (%s)", strings.Join(placeholders, ",")))
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	if !count {
		builder.WriteString(" ORDER BY session_id, seq LIMIT ?")
		limit := q.Limit
		switch {
		case limit < 0:
			limit = -1
		case limit == 0:
			limit = defaultListLimit
		}
		args = append(args, limit)
	}

	builder.WriteString(";")
	return builder.String(), args
}
