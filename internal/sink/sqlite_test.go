package sink

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/you/ytchat-export/internal/core"
)

type sliceStream struct {
	msgs []core.Message
}

func (s *sliceStream) Next(context.Context) (core.Message, bool, error) {
	if len(s.msgs) == 0 {
		return core.Message{}, false, nil
	}
	msg := s.msgs[0]
	s.msgs = s.msgs[1:]
	return msg, true, nil
}

func sampleMessages() []core.Message {
	ts := time.Date(2021, 4, 3, 14, 0, 0, 0, time.UTC)
	return []core.Message{
		{
			Author: core.Author{Name: "Alice", ID: "UC-alice", ImageURL: "https://yt3.ggpht.com/a", IsModerator: true},
			Contents: []core.ContentItem{
				core.TextItem("hello "),
				core.EmojiItem("UCx/wave", "https://yt3.ggpht.com/wave"),
			},
			Timestamp: ts,
		},
		{
			Variant:   core.VariantSuperChat,
			Author:    core.Author{Name: "Bob", ID: "UC-bob", IsSponsor: true, BadgeURL: "https://yt3.ggpht.com/badge"},
			Contents:  []core.ContentItem{core.TextItem("thanks")},
			Timestamp: ts.Add(time.Minute),
			SuperChat: &core.SuperChat{
				Amount:       "$5.00",
				BodyColor:    core.RGB{R: 30, G: 136, B: 229},
				MessageColor: core.RGB{R: 255, G: 255, B: 255},
			},
		},
		{
			Variant:   core.VariantSuperSticker,
			Author:    core.Author{Name: "Cid", ID: "UC-cid"},
			Timestamp: ts.Add(2 * time.Minute),
			SuperSticker: &core.SuperSticker{
				Amount:  "¥500",
				Sticker: "https://lh3.googleusercontent.com/sticker",
			},
		},
	}
}

func openTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestArchiveRoundTrip(t *testing.T) {
	s := openTestSink(t)
	ctx := context.Background()
	msgs := sampleMessages()

	n, err := Archive(ctx, &sliceStream{msgs: msgs}, s, "session-1", ArchiveOptions{BatchSize: 2})
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	entries, err := s.ListMessages(ctx, Query{SessionID: "session-1"})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for i, e := range entries {
		require.Equal(t, "session-1", e.SessionID)
		require.EqualValues(t, i+1, e.Seq)
		require.Equal(t, msgs[i].Variant, e.Message.Variant)
		require.Equal(t, msgs[i].Author, e.Message.Author)
		require.True(t, msgs[i].Timestamp.Equal(e.Message.Timestamp))
	}
	require.Equal(t, msgs[0].Contents, entries[0].Message.Contents)
	require.Equal(t, msgs[1].SuperChat, entries[1].Message.SuperChat)
	require.Equal(t, msgs[2].SuperSticker, entries[2].Message.SuperSticker)
	require.Empty(t, entries[2].Message.Contents)
}

func TestCountAndFilterByVariant(t *testing.T) {
	s := openTestSink(t)
	ctx := context.Background()

	_, err := Archive(ctx, &sliceStream{msgs: sampleMessages()}, s, "a", ArchiveOptions{})
	require.NoError(t, err)
	_, err = Archive(ctx, &sliceStream{msgs: sampleMessages()[:1]}, s, "b", ArchiveOptions{})
	require.NoError(t, err)

	n, err := s.CountMessages(ctx, Query{})
	require.NoError(t, err)
	require.EqualValues(t, 4, n)

	n, err = s.CountMessages(ctx, Query{SessionID: "a", Variants: []core.Variant{core.VariantSuperChat, core.VariantSuperSticker}})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	entries, err := s.ListMessages(ctx, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a", entries[0].SessionID)
}

func TestWriteIgnoresDuplicateSeq(t *testing.T) {
	s := openTestSink(t)
	msg := sampleMessages()[0]

	require.NoError(t, s.Write(Entry{SessionID: "x", Seq: 1, Message: msg}))
	require.NoError(t, s.Write(Entry{SessionID: "x", Seq: 1, Message: msg}))

	n, err := s.CountMessages(context.Background(), Query{SessionID: "x"})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestArchiveReportsWriteErrorsAndKeepsDraining(t *testing.T) {
	base := &recordingWriter{failAfter: 2}
	var reported []error

	n, err := Archive(context.Background(), &sliceStream{msgs: sampleMessages()}, base, "s", ArchiveOptions{
		OnError: func(err error) { reported = append(reported, err) },
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.Len(t, reported, 2)
	require.Equal(t, 1, base.Count())
}

type failingStream struct{}

func (failingStream) Next(context.Context) (core.Message, bool, error) {
	return core.Message{}, false, errors.New("stream broke")
}

func TestArchiveReturnsStreamError(t *testing.T) {
	_, err := Archive(context.Background(), failingStream{}, &recordingWriter{}, "s", ArchiveOptions{})
	require.EqualError(t, err, "stream broke")
}

func TestMigrateUpgradesOlderArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE messages (
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
  contents_json TEXT,
  ts TEXT NOT NULL,
  amount TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (session_id, seq)
);`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO messages (session_id, seq, variant, author_id, author_name, contents_json, ts)
VALUES ('old', 1, 'Message', 'UC-old', 'Old Timer', NULL, '2020-01-01T00:00:00Z');`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	cols, err := tableColumns(ctx, s.db, "messages")
	require.NoError(t, err)
	for _, name := range []string{"sticker", "colors_json", "badge_url"} {
		col, ok := cols[name]
		require.True(t, ok, "missing column %s", name)
		require.True(t, col.NotNull)
	}

	indexed, err := hasIndex(ctx, s.db, "messages", variantIndex)
	require.NoError(t, err)
	require.True(t, indexed)

	version, err := userVersion(ctx, s.db)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, version)

	entries, err := s.ListMessages(ctx, Query{SessionID: "old"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "Old Timer", entries[0].Message.Author.Name)
	require.Empty(t, entries[0].Message.Contents)

	require.NoError(t, Migrate(ctx, s.db))
}

func TestMigrateKeepsExistingVariantIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE INDEX ` + variantIndex + ` ON messages(session_id, variant); PRAGMA user_version=1;`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	version, err := userVersion(context.Background(), s.db)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, version)
}

func TestMigratedPaidRowsKeepAmount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE messages (
  session_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  variant TEXT NOT NULL,
  author_id TEXT NOT NULL,
  author_name TEXT NOT NULL,
  contents_json TEXT,
  ts TEXT NOT NULL,
  amount TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (session_id, seq)
);
INSERT INTO messages (session_id, seq, variant, author_id, author_name, contents_json, ts, amount)
VALUES ('old', 1, 'SuperChat', 'UC-pay', 'Payer', '["hi"]', '2020-01-01T00:00:00Z', '$5'),
       ('old', 2, 'SuperSticker', 'UC-st', 'Sticker', '[]', '2020-01-01T00:00:01Z', '¥200');`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.ListMessages(context.Background(), Query{SessionID: "old"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	sc := entries[0].Message
	require.Equal(t, core.VariantSuperChat, sc.Variant)
	require.NotNil(t, sc.SuperChat)
	require.Equal(t, "$5", sc.Amount())
	require.Equal(t, core.RGB{}, sc.SuperChat.BodyColor)

	ss := entries[1].Message
	require.NotNil(t, ss.SuperSticker)
	require.Equal(t, "¥200", ss.Amount())
}

func TestWriteBatchIsAtomic(t *testing.T) {
	s := openTestSink(t)
	ctx := context.Background()
	msgs := sampleMessages()

	require.NoError(t, s.WriteBatch([]Entry{
		{SessionID: "t", Seq: 1, Message: msgs[0]},
		{SessionID: "t", Seq: 2, Message: msgs[1]},
	}))
	require.NoError(t, s.WriteBatch([]Entry{
		{SessionID: "t", Seq: 2, Message: msgs[2]},
		{SessionID: "t", Seq: 3, Message: msgs[2]},
	}))

	entries, err := s.ListMessages(ctx, Query{SessionID: "t", Limit: -1})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, core.VariantSuperChat, entries[1].Message.Variant)
	require.Equal(t, core.VariantSuperSticker, entries[2].Message.Variant)
}
