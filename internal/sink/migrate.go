package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/pkg/errors"
)

// migration upgrades an archive by one user_version step.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

// Archives written before user_version 1 lack the paid-message columns and
// may hold NULL contents.
var migrations = []migration{
	{version: 1, name: "add sticker, colors and badge columns", apply: addPaidColumns},
	{version: 2, name: "normalize contents and index variants", apply: normalizeContents},
}

// SchemaVersion is stored in PRAGMA user_version once Migrate succeeds.
var SchemaVersion = migrations[len(migrations)-1].version

// Migrate applies every pending migration, each in its own transaction.
// It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	current, err := userVersion(ctx, db)
	if err != nil {
		return errors.Wrap(err, "read user_version")
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := runMigration(ctx, db, m); err != nil {
			return errors.Wrapf(err, "migration %d (%s)", m.version, m.name)
		}
		log.Printf("sink: archive migrated to version %d: %s", m.version, m.name)
	}
	return nil
}

func runMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := m.apply(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d;", m.version)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func addPaidColumns(ctx context.Context, tx *sql.Tx) error {
	cols, err := tableColumns(ctx, tx, "messages")
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return errors.New("messages table missing")
	}
	for _, name := range []string{"sticker", "colors_json", "badge_url"} {
		if _, ok := cols[name]; ok {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE messages ADD COLUMN %s TEXT NOT NULL DEFAULT '';", name)
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return errors.Wrapf(err, "add %s", name)
		}
	}
	return nil
}

func normalizeContents(ctx context.Context, tx *sql.Tx) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET contents_json='[]' WHERE contents_json IS NULL OR contents_json='';`)
	if err != nil {
		return errors.Wrap(err, "normalize contents_json")
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("sink: normalized contents of %d archived messages", n)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET colors_json='' WHERE colors_json IS NULL;`); err != nil {
		return errors.Wrap(err, "normalize colors_json")
	}
	indexed, err := hasIndex(ctx, tx, "messages", variantIndex)
	if err != nil || indexed {
		return errors.Wrap(err, "list indexes")
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX %s ON messages(session_id, variant);`, variantIndex))
	return errors.Wrap(err, "index variants")
}

const variantIndex = "messages_session_variant"

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func userVersion(ctx context.Context, q querier) (int, error) {
	var v int
	err := q.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v)
	return v, err
}

type column struct {
	NotNull bool
}

// tableColumns maps lower-cased column names of table to their declaration.
func tableColumns(ctx context.Context, q querier, table string) (map[string]column, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]column)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			def              sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &def, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = column{NotNull: notNull == 1}
	}
	return out, rows.Err()
}

func hasIndex(ctx context.Context, q querier, table, index string) (bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list(%s);`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq, unique, partial int
			name, origin         string
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if strings.EqualFold(name, index) {
			return true, nil
		}
	}
	return false, rows.Err()
}
