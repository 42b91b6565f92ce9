package store

import (
	"context"
	"fmt"

	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/summary"
)

// SQLiteCache is a durable Cache over a Store for one checker and one
// program version.
type SQLiteCache[S any] struct {
	store         *Store
	codec         StateCodec[S]
	checker       string
	programDigest string
}

// NewSQLiteCache binds store to a checker and program digest.
func NewSQLiteCache[S any](store *Store, codec StateCodec[S], checker, programDigest string) *SQLiteCache[S] {
	return &SQLiteCache[S]{
		store:         store,
		codec:         codec,
		checker:       checker,
		programDigest: programDigest,
	}
}

// Get decodes the stored summary. Rows written by a different engine or IR
// version read as misses.
func (c *SQLiteCache[S]) Get(ctx context.Context, key string) (*summary.Summary[S], bool, error) {
	row, ok, err := c.store.GetSummary(ctx, c.checker, c.programDigest, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if !versionsMatch(row) {
		return nil, false, nil
	}
	s, err := DecodeSummary(c.codec, row.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("cache row %s: %w", key, err)
	}
	s.Digest = row.Digest
	return s, true, nil
}

// Put encodes s and inserts it unless the key is present.
func (c *SQLiteCache[S]) Put(ctx context.Context, key string, s *summary.Summary[S]) error {
	payload, err := EncodeSummary(c.codec, s)
	if err != nil {
		return err
	}
	digest, err := ir.SummaryDigest(s.Proc, payload)
	if err != nil {
		return err
	}
	_, err = c.store.PutSummary(ctx, Row{
		Checker:       c.checker,
		ProgramDigest: c.programDigest,
		ProcKey:       key,
		Digest:        digest,
		Payload:       payload,
		Flags:         int(s.Flags),
		RunID:         s.RunID,
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
	})
	return err
}

// Load decodes every stored summary of the bound checker and program.
func (c *SQLiteCache[S]) Load(ctx context.Context) ([]*summary.Summary[S], error) {
	rows, err := c.store.ListSummaries(ctx, c.checker, c.programDigest)
	if err != nil {
		return nil, err
	}
	out := make([]*summary.Summary[S], 0, len(rows))
	for _, row := range rows {
		if !versionsMatch(row) {
			continue
		}
		s, err := DecodeSummary(c.codec, row.Payload)
		if err != nil {
			return nil, fmt.Errorf("cache row %s: %w", row.ProcKey, err)
		}
		s.Digest = row.Digest
		out = append(out, s)
	}
	return out, nil
}
