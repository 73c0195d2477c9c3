package accession

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tastythames/blast-runner/internal/job"
	"github.com/tastythames/blast-runner/internal/tabular"
)

// memStore hands out one workbook and records saves.
type memStore struct {
	mu    sync.Mutex
	wb    *tabular.Workbook
	saved map[string]*tabular.Workbook
}

func (m *memStore) Open(string) (*tabular.Workbook, error) {
	if m.wb == nil {
		return nil, errors.New("no such file")
	}
	return m.wb, nil
}

func (m *memStore) Save(path string, wb *tabular.Workbook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]*tabular.Workbook{}
	}
	m.saved[path] = wb
	return nil
}

func (m *memStore) savedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

// keyLookup answers every key with a record derived from the key.
type keyLookup struct {
	mu    sync.Mutex
	seen  []string
	onKey func(key string)
}

func (k *keyLookup) DatasetReport(_ context.Context, key string, _ Strategy) ([]Report, error) {
	k.mu.Lock()
	k.seen = append(k.seen, key)
	hook := k.onKey
	k.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	return []Report{report("name "+key, "GCF_"+key, "", CompleteGenome)}, nil
}

func (k *keyLookup) keys() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.seen...)
}

func sheet(name string, keys ...string) *tabular.Sheet {
	s := tabular.NewSheet(name, []string{"Organism", "Note"})
	for _, k := range keys {
		s.Rows = append(s.Rows, tabular.Row{k, "n"})
	}
	return s
}

func runJob(t *testing.T, j *Job, ctx context.Context, req Request) job.Outcome {
	t.Helper()
	task := j.Start(ctx, req)
	select {
	case <-task.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish")
	}
	return task.Wait()
}

func TestBatchFillsAllSheets(t *testing.T) {
	st := &memStore{wb: &tabular.Workbook{Sheets: []*tabular.Sheet{
		sheet("A", "1", "", "2"),
		tabular.NewSheet("NoColumn", []string{"Other"}),
		sheet("B", "3"),
	}}}
	l := &keyLookup{}
	j := NewJob(l, st, true, zerolog.Nop())

	out := runJob(t, j, context.Background(), Request{Path: "/data/in.xlsx", Column: "Organism"})
	if !out.OK() {
		t.Fatalf("outcome = %+v", out)
	}
	if out.ResultPath != "/data/in_filled.xlsx" {
		t.Errorf("result path = %q", out.ResultPath)
	}
	wb := st.saved["/data/in_filled.xlsx"]
	if wb == nil || len(wb.Sheets) != 3 {
		t.Fatalf("saved = %+v", st.saved)
	}

	a := wb.Sheets[0]
	if a.Get(0, ColAccession) != "GCF_1" || a.Get(2, ColSciName) != "name 2" {
		t.Errorf("sheet A rows = %v", a.Rows)
	}
	if a.Get(0, ColLink) != LinkPrefix+"GCF_1" {
		t.Errorf("link = %q", a.Get(0, ColLink))
	}
	if a.Get(1, ColSciName) != "" {
		t.Errorf("blank key row filled: %v", a.Rows[1])
	}
	if wb.Sheets[1].HasColumn(ColSciName) {
		t.Error("skipped sheet gained derived columns")
	}
	if got := l.keys(); len(got) != 3 {
		t.Errorf("lookups = %v, blank keys must not be looked up", got)
	}
}

func TestBatchCancelStopsBeforeNextRow(t *testing.T) {
	var sheets []*tabular.Sheet
	for s := 1; s <= 3; s++ {
		var keys []string
		for r := 1; r <= 10; r++ {
			keys = append(keys, fmt.Sprintf("S%dR%d", s, r))
		}
		sheets = append(sheets, sheet(fmt.Sprintf("Sheet%d", s), keys...))
	}
	st := &memStore{wb: &tabular.Workbook{Sheets: sheets}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := &keyLookup{onKey: func(key string) {
		if key == "S1R5" {
			cancel()
		}
	}}
	j := NewJob(l, st, true, zerolog.Nop())

	out := runJob(t, j, ctx, Request{Path: "in.xlsx", Column: "Organism"})
	if out.Status != job.Cancelled || out.Message != "operation cancelled" {
		t.Fatalf("outcome = %+v", out)
	}
	seen := l.keys()
	if len(seen) != 5 || seen[4] != "S1R5" {
		t.Errorf("looked up %v, want S1R1..S1R5", seen)
	}
	if st.savedCount() != 0 {
		t.Error("cancelled run saved output")
	}
}

func TestBatchRateLimit(t *testing.T) {
	rows := []string{"1", "2", "3", "4", "5"}

	slow := NewJob(&keyLookup{}, &memStore{wb: &tabular.Workbook{Sheets: []*tabular.Sheet{sheet("s", rows...)}}}, false, zerolog.Nop())
	start := time.Now()
	if out := runJob(t, slow, context.Background(), Request{Path: "a.xlsx", Column: "Organism"}); !out.OK() {
		t.Fatalf("outcome = %+v", out)
	}
	if d := time.Since(start); d < 4*UnauthenticatedDelay {
		t.Errorf("keyless batch took %v, want at least %v", d, 4*UnauthenticatedDelay)
	}

	fast := NewJob(&keyLookup{}, &memStore{wb: &tabular.Workbook{Sheets: []*tabular.Sheet{sheet("s", rows...)}}}, true, zerolog.Nop())
	start = time.Now()
	if out := runJob(t, fast, context.Background(), Request{Path: "a.xlsx", Column: "Organism"}); !out.OK() {
		t.Fatalf("outcome = %+v", out)
	}
	if d := time.Since(start); d >= time.Second {
		t.Errorf("keyed batch took %v", d)
	}
}

func TestBatchOpenFailure(t *testing.T) {
	j := NewJob(&keyLookup{}, &memStore{}, true, zerolog.Nop())
	out := runJob(t, j, context.Background(), Request{Path: "missing.xlsx", Column: "Organism"})
	if out.Status != job.Failed {
		t.Errorf("outcome = %+v", out)
	}
}

func TestBatchKeepsPriorValuesOnBlankRows(t *testing.T) {
	s := sheet("s", "1", "")
	s.Set(1, ColSciName, "from an earlier pass")
	st := &memStore{wb: &tabular.Workbook{Sheets: []*tabular.Sheet{s}}}

	out := runJob(t, NewJob(&keyLookup{}, st, true, zerolog.Nop()), context.Background(), Request{Path: "x.csv", Column: "Organism"})
	if !out.OK() {
		t.Fatalf("outcome = %+v", out)
	}
	if got := s.Get(1, ColSciName); got != "from an earlier pass" {
		t.Errorf("blank row sci name = %q", got)
	}
}

func TestStartReplacesRunningBatch(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	l := &keyLookup{onKey: func(key string) {
		if key == "block" {
			once.Do(func() { <-release })
		}
	}}
	first := &memStore{wb: &tabular.Workbook{Sheets: []*tabular.Sheet{sheet("s", "block", "after")}}}
	j := NewJob(l, first, true, zerolog.Nop())

	t1 := j.Start(context.Background(), Request{Path: "one.xlsx", Column: "Organism"})
	// first run is parked inside the lookup for "block"
	for len(l.keys()) == 0 {
		time.Sleep(time.Millisecond)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	t2 := j.Start(context.Background(), Request{Path: "one.xlsx", Column: "Organism"})

	select {
	case <-t1.Done():
	default:
		t.Fatal("second Start returned before the first run stopped")
	}
	if out := t1.Wait(); out.Status != job.Cancelled {
		t.Errorf("first outcome = %+v", out)
	}
	if out := t2.Wait(); !out.OK() {
		t.Errorf("second outcome = %+v", out)
	}
}

func TestPercent(t *testing.T) {
	cases := []struct {
		st   BatchState
		want int
	}{
		{BatchState{TotalSheets: 1, Row: 0, RowsInSheet: 4}, 25},
		{BatchState{TotalSheets: 2, SheetsCompleted: 1, Row: 9, RowsInSheet: 10}, 100},
		{BatchState{TotalSheets: 3, Row: 4, RowsInSheet: 10}, 16},
		{BatchState{}, 0},
	}
	for _, tc := range cases {
		if got := tc.st.Percent(); got != tc.want {
			t.Errorf("%+v: Percent = %d, want %d", tc.st, got, tc.want)
		}
	}
}

func TestBatchRoundTripThroughFiles(t *testing.T) {
	f := &fakeNCBI{pages: map[string][]Report{
		"refseq": {report("Listeria monocytogenes", "GCF_000196035.1", "", CompleteGenome)},
	}}
	c := newTestClient(t, f, "key")

	dir := t.TempDir()
	in := filepath.Join(dir, "isolates.xlsx")
	wb := &tabular.Workbook{Sheets: []*tabular.Sheet{sheet("Lab", "Listeria", ""), sheet("Field", "Listeria")}}
	if err := tabular.Save(in, wb); err != nil {
		t.Fatal(err)
	}

	j := NewJob(c, tabular.Files{}, c.Authenticated(), zerolog.Nop())
	out := runJob(t, j, context.Background(), Request{Path: in, Column: "Organism"})
	if !out.OK() {
		t.Fatalf("first pass: %+v", out)
	}

	// second pass over the filled file must overwrite, not duplicate
	out = runJob(t, j, context.Background(), Request{Path: out.ResultPath, Column: "Organism"})
	if !out.OK() {
		t.Fatalf("second pass: %+v", out)
	}
	if _, err := os.Stat(out.ResultPath); err != nil {
		t.Fatal(err)
	}
	got, err := tabular.Open(out.ResultPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Sheets) != 2 || got.Sheets[0].Name != "Lab" || got.Sheets[1].Name != "Field" {
		t.Fatalf("sheets = %v", got.Sheets)
	}
	lab := got.Sheets[0]
	if len(lab.Columns) != 5 {
		t.Errorf("columns = %v", lab.Columns)
	}
	if lab.Get(0, ColAccession) != "GCF_000196035.1" || lab.Get(1, ColAccession) != "" {
		t.Errorf("rows = %v", lab.Rows)
	}
	if got.Sheets[1].Get(0, ColSciName) != "Listeria monocytogenes" {
		t.Errorf("field rows = %v", got.Sheets[1].Rows)
	}
}
