package records

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestCollection(t *testing.T) *Shapefile {
	t.Helper()
	sf, err := NewShapefile(filepath.Join(t.TempDir(), "data", "segnalazioni"))
	if err != nil {
		t.Fatal(err)
	}
	return sf
}

func TestShapefileAppendReadsBack(t *testing.T) {
	sf := newTestCollection(t)
	ctx := context.Background()
	first := Report{Photo: "drive-1", Category: "Fauna e Flora", Description: "Orso avvistato", Timestamp: "2025-07-01 10:30:00", Longitude: 10.8, Latitude: 46.1}
	second := Report{Photo: "drive-2", Category: "Altro", Description: "", Timestamp: "2025-07-01 11:00:00", Longitude: 10.9, Latitude: 46.2}
	if err := sf.Append(ctx, first); err != nil {
		t.Fatalf("append first: %v", err)
	}
	if err := sf.Append(ctx, second); err != nil {
		t.Fatalf("append second: %v", err)
	}

	got, err := sf.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0] != first {
		t.Fatalf("first record = %+v", got[0])
	}
	if got[1] != second {
		t.Fatalf("second record = %+v", got[1])
	}
}

func TestShapefileWritesFullSidecarSet(t *testing.T) {
	sf := newTestCollection(t)
	if err := sf.Append(context.Background(), Report{Category: "Altro", Longitude: 1, Latitude: 2}); err != nil {
		t.Fatal(err)
	}
	for _, f := range sf.Files() {
		if _, err := os.Stat(f); err != nil {
			t.Fatalf("missing sidecar %s: %v", f, err)
		}
	}
	prj, err := os.ReadFile(sf.Files()[3])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(prj), "WGS_1984") {
		t.Fatalf("unexpected projection %q", prj)
	}
	entries, err := os.ReadDir(filepath.Dir(sf.Files()[0]))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(Extensions) {
		t.Fatalf("temporary files left behind: %d entries", len(entries))
	}
}

func TestShapefileAppendRefusesCollectionWithoutAttributes(t *testing.T) {
	sf := newTestCollection(t)
	ctx := context.Background()
	if err := sf.Append(ctx, Report{Category: "Altro", Longitude: 1, Latitude: 2}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(sf.base + ".dbf"); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(sf.base + ".shp")
	if err != nil {
		t.Fatal(err)
	}
	if err := sf.Append(ctx, Report{Category: "Fauna e Flora", Longitude: 3, Latitude: 4}); err == nil {
		t.Fatal("expected append to fail without an attribute table")
	}
	after, err := os.ReadFile(sf.base + ".shp")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("geometry file was rewritten")
	}
	if _, err := sf.List(ctx); err == nil {
		t.Fatal("expected list to fail without an attribute table")
	}
}

func TestShapefileFailedReplaceRestoresPreviousSet(t *testing.T) {
	sf := newTestCollection(t)
	ctx := context.Background()
	first := Report{Category: "Altro", Description: "prima", Timestamp: "2025-07-01 10:30:00", Longitude: 1, Latitude: 2}
	if err := sf.Append(ctx, first); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("disk full")
	rename = func(from, to string) error {
		if to == sf.base+".dbf" && strings.Contains(from, ".tmp") {
			return boom
		}
		return os.Rename(from, to)
	}
	t.Cleanup(func() { rename = os.Rename })

	err := sf.Append(ctx, Report{Category: "Altro", Description: "seconda", Longitude: 3, Latitude: 4})
	if !errors.Is(err, boom) {
		t.Fatalf("expected rename failure, got %v", err)
	}
	rename = os.Rename

	got, err := sf.List(ctx)
	if err != nil {
		t.Fatalf("list after failed replace: %v", err)
	}
	if len(got) != 1 || got[0] != first {
		t.Fatalf("previous collection not restored: %+v", got)
	}
	entries, err := os.ReadDir(filepath.Dir(sf.base))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(Extensions) {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("leftover files after rollback: %v", names)
	}
}

func TestShapefileListMissingCollection(t *testing.T) {
	sf := newTestCollection(t)
	got, err := sf.List(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty list, got %v %v", got, err)
	}
	if _, err := readAll(sf.base); !errors.Is(err, ErrMissingCollection) {
		t.Fatalf("expected ErrMissingCollection, got %v", err)
	}
}

func TestShapefileConcurrentAppendsKeepEveryRecord(t *testing.T) {
	sf := newTestCollection(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := Report{Category: "Altro", Description: fmt.Sprintf("r%d", i), Longitude: float64(i), Latitude: 45}
			if err := sf.Append(ctx, r); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	got, err := sf.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 12 {
		t.Fatalf("expected 12 records, got %d", len(got))
	}
}

func TestShapefileAppendHonorsCancelledContext(t *testing.T) {
	sf := newTestCollection(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sf.Append(ctx, Report{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := strings.Repeat("è", 200)
	got := truncate(s, 255)
	if len(got) > 255 || !strings.HasPrefix(s, got) || len(got)%2 != 0 {
		t.Fatalf("bad truncation len=%d", len(got))
	}
	if p := pad("ab", 5); p != "ab   " {
		t.Fatalf("pad = %q", p)
	}
}

type failingSink struct{ err error }

func (f failingSink) Append(context.Context, Report) error { return f.err }

func TestMultiJoinsMirrorErrors(t *testing.T) {
	sf := newTestCollection(t)
	boom := errors.New("boom")
	m := Multi{Primary: sf, Mirrors: []Sink{failingSink{err: boom}}}
	err := m.Append(context.Background(), Report{Category: "Altro"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mirror error, got %v", err)
	}
	got, _ := sf.List(context.Background())
	if len(got) != 1 {
		t.Fatalf("primary should still be written, got %d", len(got))
	}
	if len(m.Files()) != len(Extensions) {
		t.Fatalf("files = %v", m.Files())
	}
}
