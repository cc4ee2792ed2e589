package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/leadwatch/internal/lead"
	"github.com/linnemanlabs/leadwatch/internal/pipeline"
)

var _ pipeline.Store = (*Store)(nil)

func record(url string) *lead.Record {
	return &lead.Record{
		CompanyName: "Acme",
		EventType:   lead.CategoryFunding,
		SourceURL:   url,
		DetectedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestStore_InsertAndExists(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	ok, err := s.Exists(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Fatal("expected missing record before insert")
	}

	if err := s.Insert(ctx, record("https://example.com/a")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ok, err = s.Exists(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Fatal("expected record after insert")
	}
}

func TestStore_InsertDuplicate(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	first := record("https://example.com/a")
	if err := s.Insert(ctx, first); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	second := record("https://example.com/a")
	second.CompanyName = "Other"
	err := s.Insert(ctx, second)
	if !errors.Is(err, pipeline.ErrDuplicate) {
		t.Fatalf("Insert duplicate err = %v, want ErrDuplicate", err)
	}

	got, _ := s.List(ctx, 0)
	if len(got) != 1 || got[0].CompanyName != "Acme" {
		t.Errorf("List = %+v, want first record only", got)
	}
}

func TestStore_InsertCopies(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	r := record("https://example.com/a")
	if err := s.Insert(ctx, r); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	r.CompanyName = "mutated"

	got, _ := s.List(ctx, 1)
	if got[0].CompanyName != "Acme" {
		t.Errorf("CompanyName = %q, want stored copy", got[0].CompanyName)
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for i := range 5 {
		if err := s.Insert(ctx, record(fmt.Sprintf("https://example.com/%d", i))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	tests := []struct {
		limit int
		want  []string
	}{
		{0, []string{"/4", "/3", "/2", "/1", "/0"}},
		{2, []string{"/4", "/3"}},
		{10, []string{"/4", "/3", "/2", "/1", "/0"}},
	}
	for _, tt := range tests {
		got, err := s.List(ctx, tt.limit)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("List(%d) len = %d, want %d", tt.limit, len(got), len(tt.want))
		}
		for i, w := range tt.want {
			if got[i].SourceURL != "https://example.com"+w {
				t.Errorf("List(%d)[%d] = %q, want suffix %q", tt.limit, i, got[i].SourceURL, w)
			}
		}
	}
}

func TestStore_ConcurrentInsertSameURL(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Insert(ctx, record("https://example.com/same")); err == nil {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if inserted != 1 {
		t.Errorf("inserted = %d, want 1", inserted)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}
