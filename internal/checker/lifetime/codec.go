package lifetime

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/causal/internal/history"
	"github.com/roach88/causal/internal/store"
)

// Codec stores lifetime states in summary caches. Cells travel inside the
// history tags.
type Codec struct{}

var _ store.StateCodec[State] = Codec{}

type wireValue struct {
	Validity string      `json:"validity"`
	History  history.Ref `json:"history"`
}

// EncodeState adds histories to enc in variable name order so the refs are
// stable.
func (Codec) EncodeState(enc *history.Encoder, s State) (json.RawMessage, error) {
	out := make(map[string]wireValue, len(s.Vars))
	for _, name := range s.Names() {
		v := s.Vars[name]
		out[name] = wireValue{Validity: v.Validity.String(), History: enc.Add(v.History)}
	}
	return json.Marshal(out)
}

func (Codec) DecodeState(dec *history.Decoder, data json.RawMessage) (State, error) {
	var in map[string]wireValue
	if err := json.Unmarshal(data, &in); err != nil {
		return State{}, fmt.Errorf("lifetime state: %w", err)
	}
	s := State{arena: dec.Arena(), Vars: make(map[string]Value, len(in))}
	for name, w := range in {
		validity, err := ParseValidity(w.Validity)
		if err != nil {
			return State{}, fmt.Errorf("lifetime state %s: %w", name, err)
		}
		h, err := dec.History(w.History)
		if err != nil {
			return State{}, fmt.Errorf("lifetime state %s: %w", name, err)
		}
		s.Vars[name] = Value{Validity: validity, History: h}
	}
	return s, nil
}
