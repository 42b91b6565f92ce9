package resolution

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/causal/internal/domain"
	"github.com/roach88/causal/internal/history"
	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/store"
)

// Codec stores resolution states in summary caches.
type Codec struct{}

var _ store.StateCodec[State] = Codec{}

type wireEntry struct {
	Site    ir.CallSite `json:"site"`
	Status  string      `json:"status"`
	ViaLoop bool        `json:"via_loop,omitempty"`
	History history.Ref `json:"history"`
}

// EncodeState adds histories to enc in key order so the refs are stable.
func (Codec) EncodeState(enc *history.Encoder, s State) (json.RawMessage, error) {
	out := make(map[string]wireEntry, len(s.Entries))
	for _, k := range s.Keys() {
		e := s.Entries[k]
		out[k] = wireEntry{
			Site:    e.Site,
			Status:  e.Status.String(),
			ViaLoop: e.ViaLoop,
			History: enc.Add(e.History),
		}
	}
	return json.Marshal(out)
}

func (Codec) DecodeState(dec *history.Decoder, data json.RawMessage) (State, error) {
	var in map[string]wireEntry
	if err := json.Unmarshal(data, &in); err != nil {
		return State{}, fmt.Errorf("resolution state: %w", err)
	}
	s := State{arena: dec.Arena(), Entries: make(map[string]Entry, len(in))}
	for k, w := range in {
		status, err := domain.ParseStatus(w.Status)
		if err != nil {
			return State{}, fmt.Errorf("resolution state %s: %w", k, err)
		}
		h, err := dec.History(w.History)
		if err != nil {
			return State{}, fmt.Errorf("resolution state %s: %w", k, err)
		}
		s.Entries[k] = Entry{Site: w.Site, Status: status, ViaLoop: w.ViaLoop, History: h}
	}
	return s, nil
}
