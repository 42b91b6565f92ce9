package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/causal/internal/history"
	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/report"
	"github.com/roach88/causal/internal/summary"
)

// StateCodec encodes a checker's state. Histories inside the state go
// through the shared Encoder / Decoder so structure shared between state
// entries is stored once.
//
// EncodeState must be deterministic: iterate maps in sorted key order.
type StateCodec[S any] interface {
	EncodeState(enc *history.Encoder, s S) (json.RawMessage, error)
	DecodeState(dec *history.Decoder, data json.RawMessage) (S, error)
}

type envelope struct {
	Proc      ir.ProcID                     `json:"proc"`
	Params    []string                      `json:"params,omitempty"`
	State     json.RawMessage               `json:"state"`
	Exits     map[ir.NodeID]json.RawMessage `json:"exits,omitempty"`
	Flags     []string                      `json:"flags,omitempty"`
	Pending   []summary.RecursionTrace      `json:"pending,omitempty"`
	Cycles    []summary.Cycle               `json:"cycles,omitempty"`
	Issues    []report.Issue                `json:"issues,omitempty"`
	Visits    int                           `json:"visits"`
	RunID     string                        `json:"run_id,omitempty"`
	Histories history.Table                 `json:"histories"`
}

// EncodeSummary serializes s. The output is deterministic for a
// deterministic codec.
func EncodeSummary[S any](codec StateCodec[S], s *summary.Summary[S]) ([]byte, error) {
	enc := history.NewEncoder()
	state, err := codec.EncodeState(enc, s.State)
	if err != nil {
		return nil, fmt.Errorf("encode summary %s: state: %w", s.Proc, err)
	}
	env := envelope{
		Proc:    s.Proc,
		Params:  s.Params,
		State:   state,
		Flags:   s.Flags.Names(),
		Pending: s.Pending,
		Cycles:  s.Cycles,
		Issues:  s.Issues,
		Visits:  s.Visits,
		RunID:   s.RunID,
	}
	if len(s.Exits) > 0 {
		env.Exits = make(map[ir.NodeID]json.RawMessage, len(s.Exits))
		for _, id := range s.ExitNodes() {
			raw, err := codec.EncodeState(enc, s.Exits[id])
			if err != nil {
				return nil, fmt.Errorf("encode summary %s: exit %d: %w", s.Proc, id, err)
			}
			env.Exits[id] = raw
		}
	}
	env.Histories = enc.Table()

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode summary %s: %w", s.Proc, err)
	}
	return data, nil
}

// DecodeSummary rebuilds a summary; its histories are interned in a fresh
// arena.
func DecodeSummary[S any](codec StateCodec[S], data []byte) (*summary.Summary[S], error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	flags, err := summary.ParseFlags(env.Flags)
	if err != nil {
		return nil, fmt.Errorf("decode summary %s: %w", env.Proc, err)
	}

	dec := history.NewDecoder(history.NewArena(), env.Histories)
	state, err := codec.DecodeState(dec, env.State)
	if err != nil {
		return nil, fmt.Errorf("decode summary %s: state: %w", env.Proc, err)
	}

	s := &summary.Summary[S]{
		Proc:    env.Proc,
		Params:  env.Params,
		State:   state,
		Flags:   flags,
		Pending: env.Pending,
		Cycles:  env.Cycles,
		Issues:  env.Issues,
		Visits:  env.Visits,
		RunID:   env.RunID,
	}
	if len(env.Exits) > 0 {
		s.Exits = make(map[ir.NodeID]S, len(env.Exits))
		for id, raw := range env.Exits {
			st, err := codec.DecodeState(dec, raw)
			if err != nil {
				return nil, fmt.Errorf("decode summary %s: exit %d: %w", env.Proc, id, err)
			}
			s.Exits[id] = st
		}
	}
	return s, nil
}
