package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ent0n29/voicelog/internal/protocol"
)

func TestInMemoryStoreRecentIsChronological(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()
	base := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := s.Save(ctx, Entry{SessionID: "s1", Transcript: fmt.Sprintf("t%d", i), CreatedAt: base.Add(time.Duration(i) * time.Second)})
		if err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	_ = s.Save(ctx, Entry{SessionID: "s2", Transcript: "other"})

	got, err := s.Recent(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 3 || got[0].Transcript != "t2" || got[2].Transcript != "t4" {
		t.Fatalf("Recent() = %+v, want t2..t4", got)
	}
	if got[0].ID == "" {
		t.Fatalf("Save() did not assign an id")
	}
	if none, _ := s.Recent(ctx, "missing", 3); len(none) != 0 {
		t.Fatalf("Recent(missing) = %+v, want empty", none)
	}
}

func TestInMemoryStoreCapsPerSession(t *testing.T) {
	s := NewInMemoryStore(2)
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c"} {
		_ = s.Save(ctx, Entry{SessionID: "s", Transcript: text})
	}
	got, _ := s.Recent(ctx, "s", 10)
	if len(got) != 2 || got[0].Transcript != "b" {
		t.Fatalf("Recent() = %+v, want [b c]", got)
	}
}

func TestInMemoryStoreKeepsActivities(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()
	_ = s.Save(ctx, Entry{
		SessionID:  "s",
		Activities: []protocol.Activity{{ID: "a1", Title: "run", Measure: "km"}},
		Entries:    []protocol.ActivityEntry{{ID: "e1", ActivityID: "a1", Quantity: 5}},
	})
	got, _ := s.Recent(ctx, "s", 1)
	if len(got) != 1 || got[0].Activities[0].Title != "run" || got[0].Entries[0].Quantity != 5 {
		t.Fatalf("Recent() = %+v, want the saved activity", got)
	}
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	s, err := NewStore(context.Background(), Options{})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer s.Close()
	if Backend(s) != "memory" {
		t.Fatalf("Backend() = %q, want memory", Backend(s))
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions("localhost:6379", "secret")
	if err != nil {
		t.Fatalf("redisOptions(addr) error = %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.Password != "secret" {
		t.Fatalf("opts = %+v", opts)
	}

	opts, err = redisOptions("redis://:pw@cache:6380/2", "")
	if err != nil {
		t.Fatalf("redisOptions(url) error = %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "pw" {
		t.Fatalf("opts = addr=%s db=%d", opts.Addr, opts.DB)
	}
	if historyKey("abc") != "voicelog:history:abc" {
		t.Fatalf("historyKey() = %q", historyKey("abc"))
	}
}
