package lifetime

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causal/internal/domain"
	"github.com/roach88/causal/internal/fixpoint"
	"github.com/roach88/causal/internal/history"
	"github.com/roach88/causal/internal/interproc"
	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/report"
	"github.com/roach88/causal/internal/store"
	"github.com/roach88/causal/internal/testutil"
	"github.com/roach88/causal/internal/trace"
)

func analyze(t *testing.T, checker Checker, root string, graphs ...*ir.CFG) ([]report.Issue, *interproc.Driver[State]) {
	t.Helper()
	issues := report.NewCollector()
	prog := testutil.Program(graphs...)
	d, err := interproc.New[State](
		fixpoint.New[State](checker),
		prog,
		nil,
		interproc.WithSink(issues),
	)
	require.NoError(t, err)
	proc, ok := prog.Lookup(root)
	require.True(t, ok, "no procedure named %s", root)
	_, err = d.Analyze(context.Background(), proc)
	require.NoError(t, err)
	return issues.Issues(), d
}

func release() *ir.CFG {
	return testutil.Straight("release", []string{"p"}, testutil.Invalidate(10, "p"))
}

func TestValidity_Laws(t *testing.T) {
	a := history.NewArena()
	h := func(line int) *history.History {
		return a.Tag(a.Record(history.EventAllocation, testutil.At(line), "x", nil), a.FreshCell())
	}
	samples := []State{
		{},
		{arena: a, Vars: map[string]Value{"x": {Validity: Valid, History: h(1)}}},
		{arena: a, Vars: map[string]Value{"x": {Validity: Invalid, History: h(2)}}},
		{arena: a, Vars: map[string]Value{"y": {Validity: MaybeInvalid, History: h(3)}}},
		{arena: a, Vars: map[string]Value{"x": {Validity: Valid}, "y": {Validity: Invalid}}},
	}
	require.NoError(t, domain.CheckLaws[State](Checker{}, samples, 8))
}

func TestValidity_ParseRoundTrip(t *testing.T) {
	for _, v := range []Validity{ValidityBottom, Valid, Invalid, MaybeInvalid} {
		got, err := ParseValidity(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	_, err := ParseValidity("dangling")
	assert.Error(t, err)
}

func TestUse_AfterAliasInvalidated(t *testing.T) {
	issues, _ := analyze(t, Checker{}, "main", testutil.Straight("main", nil,
		testutil.Alloc(1, "p"),
		testutil.Assign(2, "q", "p"),
		testutil.Invalidate(3, "q"),
		testutil.Use(4, "p"),
	))

	require.Len(t, issues, 1)
	i := issues[0]
	assert.Equal(t, KindUseAfterInvalidate, i.Kind)
	assert.Equal(t, report.SeverityError, i.Severity)
	assert.Equal(t, testutil.At(4), i.Loc)
	assert.Equal(t, "`p` is used after being invalidated", i.Message)
	assert.Equal(t, []trace.Step{
		{Loc: testutil.At(1), Text: "allocated p", Level: 0},
		{Loc: testutil.At(2), Text: "assigned q = p", Level: 0},
		{Loc: testutil.At(3), Text: "invalidated q", Level: 0},
	}, i.Trace)
}

func TestUse_UnrelatedValueIsFine(t *testing.T) {
	issues, _ := analyze(t, Checker{}, "main", testutil.Straight("main", nil,
		testutil.Alloc(1, "p"),
		testutil.Alloc(2, "q"),
		testutil.Invalidate(3, "q"),
		testutil.Use(4, "p"),
		testutil.Const(5, "n", 1),
		testutil.Use(6, "n"),
	))
	assert.Empty(t, issues)
}

func TestUse_OnOneBranch(t *testing.T) {
	main := testutil.Graph("main").
		Node(0, testutil.Alloc(1, "p"), testutil.Branch(2, "c")).
		Node(1, testutil.Invalidate(3, "p")).
		Node(2, testutil.Use(4, "p")).
		Edge(0, 1, 2).
		Edge(1, 2).
		Exit(2).
		Build()

	issues, _ := analyze(t, Checker{}, "main", main)

	require.Len(t, issues, 1)
	assert.Equal(t, report.SeverityWarning, issues[0].Severity)
	assert.Equal(t, "`p` may be used after being invalidated", issues[0].Message)
	assert.Equal(t, []trace.Step{
		{Loc: testutil.At(1), Text: "allocated p", Level: 0},
		{Loc: testutil.At(3), Text: "invalidated p", Level: 0},
	}, issues[0].Trace)
}

func TestCall_InvalidatesArgument(t *testing.T) {
	issues, d := analyze(t, Checker{}, "main",
		testutil.Straight("main", nil,
			testutil.Alloc(1, "x"),
			testutil.Call(2, "", "release", "x"),
			testutil.Use(3, "x"),
		),
		release(),
	)

	require.Len(t, issues, 1)
	assert.Equal(t, ir.ProcID{Name: "main"}, issues[0].Proc)
	assert.Equal(t, report.SeverityWarning, issues[0].Severity)
	assert.Equal(t, []trace.Step{
		{Loc: testutil.At(1), Text: "allocated x", Level: 0},
		{Loc: testutil.At(2), Text: "in call to `release`", Level: 0},
		{Loc: ir.Location{}, Text: "parameter `p`", Level: 1},
		{Loc: testutil.At(10), Text: "invalidated p", Level: 1},
		{Loc: testutil.At(2), Text: "return from call to `release`", Level: 0},
	}, issues[0].Trace)

	s, err := d.Analyze(context.Background(), ir.ProcID{Name: "release", Arity: 1})
	require.NoError(t, err)
	assert.Equal(t, Invalid, s.State.Vars["p"].Validity)
}

func TestCall_SpreadsToAliases(t *testing.T) {
	issues, _ := analyze(t, Checker{}, "main",
		testutil.Straight("main", nil,
			testutil.Alloc(1, "x"),
			testutil.Assign(2, "y", "x"),
			testutil.Call(3, "", "release", "x"),
			testutil.Use(4, "y"),
		),
		release(),
	)

	require.Len(t, issues, 1)
	assert.Equal(t, testutil.At(4), issues[0].Loc)
	assert.Equal(t, "`y` may be used after being invalidated", issues[0].Message)
}

func TestCall_ReturnsInvalidValue(t *testing.T) {
	issues, _ := analyze(t, Checker{}, "main",
		testutil.Straight("main", nil,
			testutil.Call(1, "r", "stale"),
			testutil.Use(2, "r"),
		),
		testutil.Straight("stale", nil,
			testutil.Alloc(10, "t"),
			testutil.Invalidate(11, "t"),
			testutil.Return(12, "t"),
		),
	)

	require.Len(t, issues, 1)
	assert.Equal(t, report.SeverityError, issues[0].Severity)
	assert.Equal(t, "`r` is used after being invalidated", issues[0].Message)
	assert.Equal(t, 1, trace.Depth(issues[0].Trace))
}

func TestCall_UnknownCalleePolicy(t *testing.T) {
	main := testutil.Straight("main", nil,
		testutil.Alloc(1, "x"),
		testutil.CallUnknown(2, "", "mystery", "x"),
		testutil.Use(3, "x"),
	)

	issues, _ := analyze(t, New(false), "main", main)
	assert.Empty(t, issues)

	issues, _ = analyze(t, New(true), "main", main)
	require.Len(t, issues, 1)
	assert.Equal(t, report.SeverityWarning, issues[0].Severity)
	assert.Equal(t, []trace.Step{
		{Loc: testutil.At(1), Text: "allocated x", Level: 0},
		{Loc: testutil.At(2), Text: "call to unknown function `mystery`", Level: 0},
	}, issues[0].Trace)
}

func TestCall_RecursionTerminates(t *testing.T) {
	issues, _ := analyze(t, Checker{}, "f",
		testutil.Straight("f", []string{"p"}, testutil.Call(1, "", "g", "p")),
		testutil.Straight("g", []string{"q"}, testutil.Invalidate(10, "q"), testutil.Call(11, "", "f", "q")),
	)

	var kinds []string
	for _, i := range issues {
		kinds = append(kinds, i.Kind)
	}
	assert.Equal(t, []string{report.KindRecursionCycle}, kinds)
}

func TestCodec_RoundTrip(t *testing.T) {
	_, d := analyze(t, Checker{}, "main",
		testutil.Straight("main", []string{"a"},
			testutil.Alloc(1, "x"),
			testutil.Assign(2, "y", "x"),
			testutil.Call(3, "", "release", "a"),
		),
		release(),
	)
	want, err := d.Analyze(context.Background(), ir.ProcID{Name: "main", Arity: 1})
	require.NoError(t, err)

	data, err := store.EncodeSummary[State](Codec{}, want)
	require.NoError(t, err)
	got, err := store.DecodeSummary[State](Codec{}, data)
	require.NoError(t, err)

	assert.Equal(t, want.State.Names(), got.State.Names())
	for name, v := range want.State.Vars {
		g := got.State.Vars[name]
		assert.Equal(t, v.Validity, g.Validity, name)
		assert.True(t, history.Equal(v.History, g.History), name)
		assert.Equal(t, v.Cells(), g.Cells(), name)
	}
	assert.Equal(t, got.State.Vars["x"].Cells(), got.State.Vars["y"].Cells())
}

func TestCodec_EncodeIsDeterministic(t *testing.T) {
	a := history.NewArena()
	vars := make(map[string]Value)
	for i := range 16 {
		name := fmt.Sprintf("v%02d", i)
		h := a.Record(history.EventAllocation, testutil.At(i+1), name, nil)
		vars[name] = Value{Validity: Valid, History: h}
	}
	s := State{arena: a, Vars: vars}

	encode := func() (string, history.Table) {
		enc := history.NewEncoder()
		data, err := Codec{}.EncodeState(enc, s)
		require.NoError(t, err)
		return string(data), enc.Table()
	}
	wantData, wantTable := encode()
	for range 20 {
		data, table := encode()
		require.Equal(t, wantData, data)
		require.Equal(t, wantTable, table)
	}
}
