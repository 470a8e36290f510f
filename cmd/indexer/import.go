package main

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/transcript-phrase-search/internal/corpus"
)

// ImportCmd is the "import" subcommand. It loads an export into PostgreSQL
// in one transaction so "build --postgres" can read it back.
type ImportCmd struct {
	Corpus      string `arg:"" help:"JSONL(.gz) transcript export, '-' reads stdin."`
	CreateTable bool   `name:"create-table" default:"true" negatable:"" help:"Create the transcripts table if it does not exist."`
}

func (c *ImportCmd) Run(deps *Dependencies) error {
	var in corpus.Source = corpus.JSONLSource{Path: c.Corpus}
	if c.Corpus == "-" {
		in = corpus.ReaderSource{R: deps.Stdin}
	}
	client, err := deps.OpenPostgres(deps.Ctx)
	if err != nil {
		return fmt.Errorf("opening transcript database: %w", err)
	}
	dst := corpus.PostgresSource{DB: client.DB, Table: deps.Config.Corpus.Table}
	if c.CreateTable {
		if err := dst.CreateTable(deps.Ctx); err != nil {
			return err
		}
	}

	imported, skipped := 0, 0
	err = client.InTx(deps.Ctx, func(tx *sql.Tx) error {
		for doc, err := range in.Documents(deps.Ctx) {
			if err != nil {
				var recErr *corpus.RecordError
				if errors.As(err, &recErr) {
					deps.Logger.Warn("unreadable record skipped", "record", recErr.Record, "error", recErr.Err)
					skipped++
					continue
				}
				return err
			}
			if err := dst.InsertWith(deps.Ctx, tx, doc); err != nil {
				return err
			}
			imported++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("importing %s: %w", c.Corpus, err)
	}
	fmt.Fprintf(deps.Stdout, "imported %d transcripts (skipped %d) into %s\n", imported, skipped, deps.Config.Corpus.Table)
	return nil
}
