package summary

import (
	"github.com/roach88/causal/internal/domain"
	"github.com/roach88/causal/internal/history"
	"github.com/roach88/causal/internal/ir"
)

// Projector translates a callee state into the caller's context: formals
// become actuals, callee-local facts are dropped, and every History the
// state carries is passed through wrap.
//
// Project must be monotone in callee and must not mutate it.
type Projector[S any] interface {
	Project(callee S, site ir.CallSite, params []string, wrap func(*history.History) *history.History) S
}

// Apply composes callee into caller at site.
//
// Every history of the callee state is re-tagged as reached via site: it
// becomes the nested history of a Call event at the site's location. All
// elements share one timestamp from arena, since they describe the same
// call. The projected state is then joined into caller, so Apply never
// loses information: Leq(caller, Apply(..., caller, ...)) always holds.
func Apply[S any](l domain.Lattice[S], p Projector[S], arena *history.Arena, caller S, callee *Summary[S], site ir.CallSite) S {
	if callee == nil || l.IsBottom(callee.State) {
		return caller
	}
	projected := p.Project(callee.State, site, callee.Params, CallWrapper(arena, site))
	return l.Join(caller, projected)
}

// CallWrapper returns the wrap function Apply hands to projectors. It is
// exported for checkers that splice callee histories outside Apply.
func CallWrapper(arena *history.Arena, site ir.CallSite) func(*history.History) *history.History {
	ts := arena.Tick()
	return func(h *history.History) *history.History {
		ev := history.Event{
			Kind:      history.EventCall,
			Loc:       site.Loc,
			Timestamp: ts,
			Desc:      site.Target(),
			InCall:    h,
		}
		return arena.Sequence(ev, history.Epoch)
	}
}
