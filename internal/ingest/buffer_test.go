package ingest

import (
	"fmt"
	"testing"

	"github.com/flarestack/flare-relay/internal/models"
)

func makeEvent(id string) *models.Event {
	return &models.Event{EventID: id, Type: models.EventTypeLogError}
}

func TestBufferEvictsOldest(t *testing.T) {
	buf := NewBuffer(3)
	for i := 0; i < 4; i++ {
		buf.Append(makeEvent(fmt.Sprintf("evt-%d", i)))
	}

	if buf.Len() != 3 {
		t.Fatalf("len = %d, want 3", buf.Len())
	}
	recent := buf.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("recent = %d entries, want 3", len(recent))
	}
	if recent[0].EventID != "evt-1" {
		t.Fatalf("oldest surviving entry = %s, want evt-1", recent[0].EventID)
	}
	if recent[2].EventID != "evt-3" {
		t.Fatalf("newest entry = %s, want evt-3", recent[2].EventID)
	}
}

func TestBufferRecentLimit(t *testing.T) {
	buf := NewBuffer(10)
	for i := 0; i < 5; i++ {
		buf.Append(makeEvent(fmt.Sprintf("evt-%d", i)))
	}

	recent := buf.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("recent(2) = %d entries", len(recent))
	}
	if recent[0].EventID != "evt-3" || recent[1].EventID != "evt-4" {
		t.Fatalf("recent(2) = [%s %s], want [evt-3 evt-4]", recent[0].EventID, recent[1].EventID)
	}

	if got := buf.Recent(100); len(got) != 5 {
		t.Fatalf("recent(100) = %d entries, want 5", len(got))
	}
}

func TestBufferFullCapacityRollover(t *testing.T) {
	buf := NewBuffer(DefaultBufferSize)
	for i := 0; i < DefaultBufferSize+1; i++ {
		buf.Append(makeEvent(fmt.Sprintf("evt-%d", i)))
	}

	if buf.Len() != DefaultBufferSize {
		t.Fatalf("len = %d, want %d", buf.Len(), DefaultBufferSize)
	}
	recent := buf.Recent(0)
	if recent[0].EventID != "evt-1" {
		t.Fatalf("first entry = %s, want evt-1 after eviction", recent[0].EventID)
	}
	if last := recent[len(recent)-1]; last.EventID != fmt.Sprintf("evt-%d", DefaultBufferSize) {
		t.Fatalf("last entry = %s", last.EventID)
	}
}
