package sink

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"os"
)

// TuningEnv enables the extra archive pragmas when set to 1.
const TuningEnv = "YTCHAT_SQLITE_TUNING"

// busy_timeout always applies: the archive and an external reader may share
// the file.
var basePragmas = []string{
	"PRAGMA busy_timeout=5000;",
}

var tuningPragmas = []string{
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA wal_autocheckpoint=1000;",
	"PRAGMA temp_store=MEMORY;",
}

// ApplySQLitePragmas applies connection pragmas, plus the tuning set when
// YTCHAT_SQLITE_TUNING=1. Failures are logged and otherwise ignored.
func ApplySQLitePragmas(ctx context.Context, db *sql.DB) {
	pragmas := basePragmas
	if os.Getenv(TuningEnv) == "1" {
		pragmas = append(append([]string(nil), basePragmas...), tuningPragmas...)
	}

	for _, pragma := range pragmas {
		if value, err := applyPragma(ctx, db, pragma); err != nil {
			log.Printf("sink: pragma %s failed: %v", pragma, err)
		} else {
			slog.Debug("sink: pragma applied", "pragma", pragma, "value", value)
		}
	}
}

func applyPragma(ctx context.Context, db *sql.DB, pragma string) (any, error) {
	row := db.QueryRowContext(ctx, pragma)
	var value any
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
				return nil, execErr
			}
			return "ok", nil
		}
		return nil, err
	}
	return value, nil
}
