// Package export drives one output format over the classified message stream
// and writes the resulting units, optionally partitioned.
package export

import (
	"context"
	"fmt"
	"log"

	"github.com/pkg/errors"

	"github.com/you/ytchat-export/internal/core"
)

// Stream yields messages in arrival order until ok is false.
type Stream interface {
	Next(ctx context.Context) (msg core.Message, ok bool, err error)
}

// FlushFunc observes every written unit.
type FlushFunc func(format string, unit Unit, messages int)

type Options struct {
	// Split is the number of messages per unit. Values <= 1 write a single
	// unit for the whole session.
	Split int
	// Title names the documents that carry one.
	Title   string
	OnFlush FlushFunc
}

type Exporter struct {
	format Format
	target Target
	opts   Options
}

// Result summarizes one Export call.
type Result struct {
	Messages int
	Units    []string
}

func New(format Format, target Target, opts Options) *Exporter {
	return &Exporter{format: format, target: target, opts: opts}
}

// Export consumes src until end of stream. A partially filled last unit is
// still written. A render or write failure aborts the run.
func (e *Exporter) Export(ctx context.Context, src Stream) (Result, error) {
	var res Result

	if p, ok := e.format.(Preparer); ok {
		if err := p.Prepare(e.target); err != nil {
			return res, errors.Wrap(err, "prepare output")
		}
	}

	partitioned := e.opts.Split > 1
	index := 0
	doc := e.format.NewDocument(e.unit(partitioned, index))

	for {
		msg, ok, err := src.Next(ctx)
		if err != nil {
			return res, err
		}
		if !ok {
			break
		}
		if err := doc.Add(msg); err != nil {
			return res, errors.Wrap(err, "render message")
		}
		res.Messages++

		if partitioned && doc.Len() >= e.opts.Split {
			if err := e.flush(doc, e.unit(partitioned, index), &res); err != nil {
				return res, err
			}
			index++
			doc = e.format.NewDocument(e.unit(partitioned, index))
		}
	}

	if !partitioned || doc.Len() > 0 {
		if err := e.flush(doc, e.unit(partitioned, index), &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (e *Exporter) unit(partitioned bool, index int) Unit {
	if !partitioned {
		return Unit{Index: -1, Name: "exported." + e.format.Extension(), Title: e.opts.Title}
	}
	return Unit{
		Index: index,
		Name:  fmt.Sprintf("%d.%s", index, e.format.Extension()),
		Title: fmt.Sprintf("%s[%d]", e.opts.Title, index),
	}
}

func (e *Exporter) flush(doc Document, unit Unit, res *Result) error {
	data, err := doc.Bytes()
	if err != nil {
		return errors.Wrapf(err, "render %s", unit.Name)
	}
	if err := e.target.Write(unit.Name, data); err != nil {
		return err
	}
	res.Units = append(res.Units, unit.Name)
	log.Printf("export: wrote %s (%d messages)", unit.Name, doc.Len())
	if e.opts.OnFlush != nil {
		e.opts.OnFlush(e.format.Name(), unit, doc.Len())
	}
	return nil
}
