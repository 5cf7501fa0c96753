package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/you/ytchat-export/internal/assets"
	"github.com/you/ytchat-export/internal/export"
	"github.com/you/ytchat-export/internal/httpapi"
	"github.com/you/ytchat-export/internal/sink"
)

var errBadLimit = errors.New("limit must be a non-negative integer")

func main() {
	app := &cli.App{
		Name:  "devapi",
		Usage: "Browse and re-render sessions stored in a ytchat-export archive",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "HTTP listen address", Value: ":8765"},
			&cli.StringFlag{Name: "db", Usage: "SQLite archive path", Value: "archive.db"},
		},
		Action: func(c *cli.Context) error {
			s, err := sink.OpenSQLite(c.String("db"))
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Ping(); err != nil {
				return err
			}

			log.Printf("devapi listening on %s (db=%s)", c.String("addr"), c.String("db"))
			return http.ListenAndServe(c.String("addr"), newMux(s))
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newMux(s *sink.SQLiteSink) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /count", func(w http.ResponseWriter, r *http.Request) {
		q, err := queryFromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n, err := s.CountMessages(r.Context(), q)
		if err != nil {
			http.Error(w, "count failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"count": n})
	})

	mux.HandleFunc("GET /messages", func(w http.ResponseWriter, r *http.Request) {
		q, err := queryFromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		list, err := s.ListMessages(r.Context(), q)
		if err != nil {
			http.Error(w, "list failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		records := make([]export.Record, 0, len(list))
		for _, e := range list {
			records = append(records, export.NewRecord(e.Message))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(records)
	})

	// /render re-renders one archived session as a single unpartitioned
	// document. Images always point at their remote URLs.
	mux.HandleFunc("GET /render", func(w http.ResponseWriter, r *http.Request) {
		q, err := queryFromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if q.SessionID == "" {
			http.Error(w, "session required", http.StatusBadRequest)
			return
		}
		name := r.URL.Query().Get("format")
		if name == "" {
			name = export.PlainText
		}
		format, err := export.ForName(name, assets.Resolver{})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if r.URL.Query().Get("limit") == "" {
			q.Limit = -1
		}
		list, err := s.ListMessages(r.Context(), q)
		if err != nil {
			http.Error(w, "list failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		doc := format.NewDocument(export.Unit{Index: -1, Name: "exported." + format.Extension(), Title: q.SessionID})
		for _, e := range list {
			if err := doc.Add(e.Message); err != nil {
				http.Error(w, "render failed: "+err.Error(), http.StatusInternalServerError)
				return
			}
		}
		data, err := doc.Bytes()
		if err != nil {
			http.Error(w, "render failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType(format))
		_, _ = w.Write(data)
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

// queryFromRequest reads session and limit, plus the live tail variant filter.
func queryFromRequest(r *http.Request) (sink.Query, error) {
	filters, err := httpapi.FiltersFromRequest(r)
	if err != nil {
		return sink.Query{}, err
	}
	q := sink.Query{
		SessionID: r.URL.Query().Get("session"),
		Variants:  filters.Variants,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return sink.Query{}, errBadLimit
		}
		q.Limit = n
	}
	return q, nil
}

func contentType(f export.Format) string {
	switch f.Extension() {
	case "json":
		return "application/json"
	case "html":
		return "text/html; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}
