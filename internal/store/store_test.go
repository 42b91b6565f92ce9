package store

import (
	"context"
	"encoding/json"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causal/internal/history"
	"github.com/roach88/causal/internal/ir"
	"github.com/roach88/causal/internal/report"
	"github.com/roach88/causal/internal/summary"
	"github.com/roach88/causal/internal/trace"
)

// createTestStore creates a new store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// marks is a test state: variable -> history.
type marks map[string]*history.History

type marksCodec struct{}

func (marksCodec) EncodeState(enc *history.Encoder, s marks) (json.RawMessage, error) {
	refs := make(map[string]history.Ref, len(s))
	for _, k := range slices.Sorted(maps.Keys(s)) {
		refs[k] = enc.Add(s[k])
	}
	return json.Marshal(refs)
}

func (marksCodec) DecodeState(dec *history.Decoder, data json.RawMessage) (marks, error) {
	var refs map[string]history.Ref
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, err
	}
	out := make(marks, len(refs))
	for k, ref := range refs {
		h, err := dec.History(ref)
		if err != nil {
			return nil, err
		}
		out[k] = h
	}
	return out, nil
}

func sampleSummary() *summary.Summary[marks] {
	a := history.NewArena()
	base := a.Record(history.EventAllocation, ir.Location{File: "f.go", Line: 1}, "p", nil)
	p := a.Record(history.EventInvalidation, ir.Location{File: "f.go", Line: 2}, "p", base)
	q := a.Record(history.EventAssignment, ir.Location{File: "f.go", Line: 3}, "q = p", base)

	f := ir.ProcID{Name: "f", Arity: 1}
	g := ir.ProcID{Name: "g", Arity: 1}
	return &summary.Summary[marks]{
		Proc:   f,
		Params: []string{"p"},
		State:  marks{"p": p, "q": q},
		Exits:  map[ir.NodeID]marks{3: {"p": p}},
		Flags:  summary.FlagDegraded | summary.FlagCycle,
		Pending: []summary.RecursionTrace{{
			Target: g,
			Links:  []summary.CallLink{{Caller: f, Callee: g, Loc: ir.Location{File: "f.go", Line: 4}, Args: []string{"p"}}},
		}},
		Cycles: []summary.Cycle{{Links: []summary.CallLink{{Caller: f, Callee: f, Loc: ir.Location{File: "f.go", Line: 5}}}}},
		Issues: []report.Issue{{
			Proc:     f,
			Loc:      ir.Location{File: "f.go", Line: 6},
			Kind:     "use-after-invalidate",
			Severity: report.SeverityError,
			Message:  "p used after invalidation",
			Trace:    []trace.Step{{Loc: ir.Location{File: "f.go", Line: 2}, Text: "invalidated p"}},
		}},
		Visits: 9,
		RunID:  "run-1",
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestStore_PutSummaryFirstWriteWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	row := Row{
		Checker: "lifetime", ProgramDigest: "p1", ProcKey: "f/0",
		Digest: "d1", Payload: []byte("first"), RunID: "r1",
		EngineVersion: ir.EngineVersion, IRVersion: ir.IRVersion,
	}
	inserted, err := s.PutSummary(ctx, row)
	require.NoError(t, err)
	assert.True(t, inserted)

	row.Digest, row.Payload = "d2", []byte("second")
	inserted, err = s.PutSummary(ctx, row)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, ok, err := s.GetSummary(ctx, "lifetime", "p1", "f/0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "d1", got.Digest)
	assert.Equal(t, []byte("first"), got.Payload)

	_, ok, err = s.GetSummary(ctx, "lifetime", "p2", "f/0")
	require.NoError(t, err)
	assert.False(t, ok, "other program digest must miss")
}

func TestStore_Runs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordRun(ctx, "r1", "lifetime", "p1", 2))
	require.NoError(t, s.RecordRun(ctx, "r1", "lifetime", "p1", 2))

	for _, key := range []string{"f/0", "g/0"} {
		_, err := s.PutSummary(ctx, Row{
			Checker: "lifetime", ProgramDigest: "p1", ProcKey: key, Digest: "d",
			Payload: []byte("{}"), RunID: "r1", EngineVersion: ir.EngineVersion, IRVersion: ir.IRVersion,
		})
		require.NoError(t, err)
	}

	n, err := s.RunSummaries(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := s.ListSummaries(ctx, "lifetime", "p1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "f/0", rows[0].ProcKey)
}

func TestEncodeSummary_ManyEntriesDeterministic(t *testing.T) {
	a := history.NewArena()
	base := a.Record(history.EventAllocation, ir.Location{File: "f.go", Line: 1}, "base", nil)
	state := make(marks)
	for i := range 16 {
		name := string(rune('a' + i))
		state[name] = a.Record(history.EventAssignment, ir.Location{File: "f.go", Line: i + 2}, name, base)
	}
	s := &summary.Summary[marks]{Proc: ir.ProcID{Name: "f"}, State: state}

	want, err := EncodeSummary[marks](marksCodec{}, s)
	require.NoError(t, err)
	for range 20 {
		got, err := EncodeSummary[marks](marksCodec{}, s)
		require.NoError(t, err)
		require.Equal(t, string(want), string(got))
	}
}

func TestEncodeSummary_RoundTrip(t *testing.T) {
	want := sampleSummary()

	data, err := EncodeSummary[marks](marksCodec{}, want)
	require.NoError(t, err)

	again, err := EncodeSummary[marks](marksCodec{}, want)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding must be deterministic")

	got, err := DecodeSummary[marks](marksCodec{}, data)
	require.NoError(t, err)

	assert.Equal(t, want.Proc, got.Proc)
	assert.Equal(t, want.Params, got.Params)
	assert.Equal(t, want.Flags, got.Flags)
	assert.Equal(t, want.Pending, got.Pending)
	assert.Equal(t, want.Cycles, got.Cycles)
	assert.Equal(t, want.Issues, got.Issues)
	assert.Equal(t, want.Visits, got.Visits)
	assert.Equal(t, want.RunID, got.RunID)
	require.Len(t, got.State, 2)
	assert.True(t, history.Equal(want.State["p"], got.State["p"]))
	assert.True(t, history.Equal(want.State["q"], got.State["q"]))
	require.Contains(t, got.Exits, ir.NodeID(3))
	assert.True(t, history.Equal(want.Exits[3]["p"], got.Exits[3]["p"]))
}

func TestDecodeSummary_Errors(t *testing.T) {
	_, err := DecodeSummary[marks](marksCodec{}, []byte("not json"))
	assert.Error(t, err)

	_, err = DecodeSummary[marks](marksCodec{}, []byte(`{"proc":{"name":"f"},"state":[],"flags":["bogus"],"histories":{"nodes":[]}}`))
	assert.Error(t, err)
}

func TestSQLiteCache_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := NewSQLiteCache[marks](s, marksCodec{}, "lifetime", "prog-1")

	want := sampleSummary()
	require.NoError(t, c.Put(ctx, want.Proc.Key(), want))

	got, ok, err := c.Get(ctx, want.Proc.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, got.Digest)
	assert.True(t, history.Equal(want.State["p"], got.State["p"]))

	payload, err := EncodeSummary[marks](marksCodec{}, want)
	require.NoError(t, err)
	assert.Equal(t, ir.MustSummaryDigest(want.Proc, payload), got.Digest)

	loaded, err := c.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, got.Digest, loaded[0].Digest)
}

func TestSQLiteCache_FirstWriteWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := NewSQLiteCache[marks](s, marksCodec{}, "lifetime", "prog-1")

	first := sampleSummary()
	second := sampleSummary()
	second.Visits = 100

	require.NoError(t, c.Put(ctx, "f/1", first))
	require.NoError(t, c.Put(ctx, "f/1", second))

	got, ok, err := c.Get(ctx, "f/1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 9, got.Visits)
}

func TestSQLiteCache_VersionMismatchIsMiss(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.PutSummary(ctx, Row{
		Checker: "lifetime", ProgramDigest: "prog-1", ProcKey: "f/1", Digest: "d",
		Payload: []byte("{}"), RunID: "old", EngineVersion: "0.0.1", IRVersion: ir.IRVersion,
	})
	require.NoError(t, err)

	c := NewSQLiteCache[marks](s, marksCodec{}, "lifetime", "prog-1")
	_, ok, err := c.Get(ctx, "f/1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_FirstWriteWins(t *testing.T) {
	c := NewMemoryCache[marks]()
	ctx := context.Background()

	a := &summary.Summary[marks]{Visits: 1}
	b := &summary.Summary[marks]{Visits: 2}
	require.NoError(t, c.Put(ctx, "k", a))
	require.NoError(t, c.Put(ctx, "k", b))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []string{"k"}, c.Keys())
}

func TestMemoryCache_ConcurrentPut(t *testing.T) {
	c := NewMemoryCache[marks]()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Put(ctx, "k", &summary.Summary[marks]{Visits: i})
		}()
	}
	wg.Wait()

	first, _, _ := c.Get(ctx, "k")
	for range 10 {
		again, _, _ := c.Get(ctx, "k")
		assert.Same(t, first, again, "value must be stable once read")
	}
}

func TestTiered_ReadThroughAndWinner(t *testing.T) {
	ctx := context.Background()
	front, back := NewMemoryCache[marks](), NewMemoryCache[marks]()
	tiered := Tiered[marks]{Front: front, Back: back}

	earlier := &summary.Summary[marks]{Visits: 1}
	require.NoError(t, back.Put(ctx, "k", earlier))

	require.NoError(t, tiered.Put(ctx, "k", &summary.Summary[marks]{Visits: 2}))
	got, ok, err := front.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, earlier, got, "front must cache the back's winner")

	require.NoError(t, back.Put(ctx, "only-back", earlier))
	got, ok, err = tiered.Get(ctx, "only-back")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, earlier, got)
	assert.Equal(t, 2, front.Len())

	_, ok, err = tiered.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
