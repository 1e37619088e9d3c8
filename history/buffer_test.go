package history

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func rec(entity string, ts time.Time, final int) TickRecord {
	return TickRecord{
		Timestamp:  ts,
		Controller: "living_room",
		EntityID:   entity,
		Final:      final,
	}
}

func TestBufferRecentOrder(t *testing.T) {
	b := NewBuffer(10)
	base := time.Now()
	for i := 0; i < 5; i++ {
		b.Push(rec("cover.a", base.Add(time.Duration(i)*time.Second), i*10))
	}

	recent := b.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("Recent(3) returned %d records", len(recent))
	}
	if recent[0].Final != 40 || recent[1].Final != 30 || recent[2].Final != 20 {
		t.Errorf("wrong order: %d %d %d", recent[0].Final, recent[1].Final, recent[2].Final)
	}
}

func TestBufferEviction(t *testing.T) {
	b := NewBuffer(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		b.Push(rec("cover.a", base.Add(time.Duration(i)*time.Second), i))
	}
	if b.Size() != 3 {
		t.Errorf("Size = %d, want 3", b.Size())
	}
	recent := b.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("Recent returned %d records", len(recent))
	}
	if recent[0].Final != 4 || recent[2].Final != 2 {
		t.Errorf("eviction kept wrong records: newest %d oldest %d", recent[0].Final, recent[2].Final)
	}
}

func TestBufferLatestByEntity(t *testing.T) {
	b := NewBuffer(10)
	now := time.Now()
	b.Push(rec("cover.a", now, 10))
	b.Push(rec("cover.b", now, 20))
	b.Push(rec("cover.a", now.Add(time.Second), 30))

	got, ok := b.Latest("cover.a")
	if !ok || got.Final != 30 {
		t.Errorf("Latest(cover.a) = %v %v, want Final 30", got, ok)
	}
	if _, ok := b.Latest("cover.c"); ok {
		t.Error("Latest for unknown entity should miss")
	}
}

func TestBufferByTimeRange(t *testing.T) {
	b := NewBuffer(10)
	base := time.Unix(1000, 0)
	for i := 0; i < 5; i++ {
		b.Push(rec("cover.a", base.Add(time.Duration(i)*time.Minute), i))
	}

	got := b.ByTimeRange(base.Add(time.Minute), base.Add(3*time.Minute))
	if len(got) != 3 {
		t.Errorf("ByTimeRange returned %d records, want 3", len(got))
	}
}

func TestBufferStats(t *testing.T) {
	b := NewBuffer(10)
	base := time.Unix(1000, 0)

	dispatched := rec("cover.a", base, 25)
	dispatched.Dispatched = true
	b.Push(dispatched)

	gated := rec("cover.b", base.Add(time.Minute), 25)
	gated.Reason = "too_soon"
	b.Push(gated)

	b.Push(rec("cover.a", base.Add(2*time.Minute), 60))

	st := b.Stats()
	if st.Records != 3 || st.Capacity != 10 {
		t.Errorf("Records/Capacity = %d/%d, want 3/10", st.Records, st.Capacity)
	}
	if st.Dispatched != 1 || st.Gated != 1 {
		t.Errorf("Dispatched/Gated = %d/%d, want 1/1", st.Dispatched, st.Gated)
	}
	if st.Entities != 2 {
		t.Errorf("Entities = %d, want 2", st.Entities)
	}
	if !st.OldestTick.Equal(base) || !st.NewestTick.Equal(base.Add(2*time.Minute)) {
		t.Errorf("tick span = %v..%v", st.OldestTick, st.NewestTick)
	}
}

func TestCSVLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")

	l, err := NewCSVLog(path)
	if err != nil {
		t.Fatalf("NewCSVLog: %v", err)
	}
	l.Write(rec("cover.a", time.Unix(1700000000, 0), 25))
	l.Write(rec("cover.b", time.Unix(1700000060, 0), 75))
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header plus 2", len(rows))
	}
	if rows[0][0] != "iso8601" {
		t.Errorf("header row = %v", rows[0])
	}
	if rows[1][3] != "cover.a" || rows[2][3] != "cover.b" {
		t.Errorf("entity columns = %q, %q", rows[1][3], rows[2][3])
	}

	// Appending to an existing file must not duplicate the header.
	l2, err := NewCSVLog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	l2.Write(rec("cover.c", time.Unix(1700000120, 0), 50))
	l2.Close()

	f2, _ := os.Open(path)
	defer f2.Close()
	rows, _ = csv.NewReader(f2).ReadAll()
	if len(rows) != 4 {
		t.Errorf("after append got %d rows, want 4", len(rows))
	}
}
