package history

import (
	"iter"
	"slices"
)

// TokenKind classifies a replay token.
type TokenKind uint8

const (
	TokenEvent TokenKind = iota + 1
	TokenEnterCall
	TokenReturnFromCall
)

func (k TokenKind) String() string {
	switch k {
	case TokenEvent:
		return "event"
	case TokenEnterCall:
		return "enter_call"
	case TokenReturnFromCall:
		return "return_from_call"
	default:
		return "token(?)"
	}
}

// Token is one step of a replay. For TokenEnterCall and TokenReturnFromCall
// Event is the Call event being entered or left.
type Token struct {
	Kind  TokenKind
	Event Event
}

// Backward replays h from the latest event to the earliest.
//
// At each step the heads of every branch are compared and all events carrying
// the maximal timestamp are emitted together (deduplicated by equality); only
// the branches that produced them advance. Events from different branches
// therefore come out in true chronological order even though no branch knew
// about the others. A Call event emits ReturnFromCall, then the callee's
// history depth-first, then EnterCall.
func Backward(h *History) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		backward(orEpoch(h), yield)
	}
}

func backward(h *History, yield func(Token) bool) bool {
	heads := []*History{h}
	for {
		var batch []Event
		batch, heads = pop(heads)
		if len(batch) == 0 {
			return true
		}
		for _, ev := range batch {
			if ev.Kind != EventCall {
				if !yield(Token{Kind: TokenEvent, Event: ev}) {
					return false
				}
				continue
			}
			if !yield(Token{Kind: TokenReturnFromCall, Event: ev}) {
				return false
			}
			if !backward(orEpoch(ev.InCall), yield) {
				return false
			}
			if !yield(Token{Kind: TokenEnterCall, Event: ev}) {
				return false
			}
		}
	}
}

// pop removes the latest batch of simultaneous events from heads and returns
// it with the advanced heads.
func pop(heads []*History) ([]Event, []*History) {
	seqs := flatten(heads)
	if len(seqs) == 0 {
		return nil, nil
	}

	latest := seqs[0].event.Timestamp
	for _, s := range seqs[1:] {
		latest = max(latest, s.event.Timestamp)
	}

	var (
		batch []Event
		next  = make([]*History, 0, len(seqs))
	)
	for _, s := range seqs {
		if s.event.Timestamp != latest {
			next = append(next, s)
			continue
		}
		if !slices.ContainsFunc(batch, func(e Event) bool { return EqualEvents(e, s.event) }) {
			batch = append(batch, s.event)
		}
		next = append(next, s.tail)
	}
	return batch, next
}

// flatten unwraps tags and splits binaries and multiplexes until only
// Sequence nodes remain. Shared nodes are kept once.
func flatten(heads []*History) []*History {
	var (
		out  []*History
		seen = make(map[*History]struct{})
	)
	var walk func(h *History)
	walk = func(h *History) {
		h = orEpoch(h)
		if _, ok := seen[h]; ok {
			return
		}
		seen[h] = struct{}{}
		switch h.kind {
		case KindSequence:
			out = append(out, h)
		case KindTagged:
			walk(h.tail)
		case KindBinary:
			walk(h.left)
			walk(h.right)
		case KindMultiplex:
			for _, br := range h.branches {
				walk(br)
			}
		}
	}
	for _, h := range heads {
		walk(h)
	}
	return out
}

// Iterator is a lazy, single-pass forward replay of a history: the reverse
// of Backward. Nothing is computed until the first call to Next, and an
// exhausted Iterator stays exhausted.
type Iterator struct {
	h       *History
	tokens  []Token
	pos     int
	started bool
}

// Forward returns an iterator replaying h from the earliest event to the
// latest. A Call event yields EnterCall, the callee's events, then
// ReturnFromCall.
func Forward(h *History) *Iterator {
	return &Iterator{h: orEpoch(h)}
}

// Next returns the next token, or false once the replay is exhausted.
func (it *Iterator) Next() (Token, bool) {
	if !it.started {
		it.started = true
		for tok := range Backward(it.h) {
			it.tokens = append(it.tokens, tok)
		}
		slices.Reverse(it.tokens)
		it.h = nil
	}
	if it.pos >= len(it.tokens) {
		it.tokens = nil
		return Token{}, false
	}
	tok := it.tokens[it.pos]
	it.pos++
	return tok, true
}

// All yields the remaining tokens, consuming the iterator.
func (it *Iterator) All() iter.Seq[Token] {
	return func(yield func(Token) bool) {
		for {
			tok, ok := it.Next()
			if !ok || !yield(tok) {
				return
			}
		}
	}
}

// Events returns the events of h in forward chronological order. A call
// contributes its Call event followed by the callee's events.
func Events(h *History) []Event {
	var out []Event
	for tok := range Forward(h).All() {
		if tok.Kind == TokenEvent || tok.Kind == TokenEnterCall {
			out = append(out, tok.Event)
		}
	}
	return out
}
