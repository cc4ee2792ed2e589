package redisstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/linnemanlabs/leadwatch/internal/lead"
	"github.com/linnemanlabs/leadwatch/internal/pipeline"
)

var _ pipeline.Store = (*Store)(nil)

func newTestStore(t *testing.T, prefix string) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, prefix), mr
}

func record(url string, at time.Time) *lead.Record {
	return &lead.Record{
		CompanyName:      "Acme",
		EventType:        lead.CategoryFunding,
		EventDescription: "Acme raises\n\nexcerpt",
		SourceURL:        url,
		DetectedAt:       at,
	}
}

func TestInsertAndExists(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t, "")
	ctx := context.Background()

	ok, err := s.Exists(ctx, "https://example.com/a")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Insert(ctx, record("https://example.com/a", time.Now().UTC())))

	ok, err = s.Exists(ctx, "https://example.com/a")
	require.NoError(t, err)
	require.True(t, ok)

	require.True(t, mr.Exists(s.eventKey("https://example.com/a")))
	require.Contains(t, s.eventKey("https://example.com/a"), DefaultPrefix+"event:")
}

func TestInsertDuplicate(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, "test:")
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, record("https://example.com/a", time.Now().UTC())))

	dup := record("https://example.com/a", time.Now().UTC())
	dup.CompanyName = "Other"
	err := s.Insert(ctx, dup)
	require.True(t, errors.Is(err, pipeline.ErrDuplicate), "err = %v", err)

	got, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "Acme", got[0].CompanyName)
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, "")
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 4 {
		url := fmt.Sprintf("https://example.com/%d", i)
		require.NoError(t, s.Insert(ctx, record(url, base.Add(time.Duration(i)*time.Minute))))
	}

	got, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "https://example.com/3", got[0].SourceURL)
	require.Equal(t, "https://example.com/2", got[1].SourceURL)
	require.True(t, got[0].DetectedAt.Equal(base.Add(3*time.Minute)))
	require.Nil(t, got[0].CompanyURL)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
}

func TestListEmpty(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, "")
	got, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestListSkipsMissingValues(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t, "")
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, record("https://example.com/kept", time.Now().UTC())))
	require.NoError(t, s.Insert(ctx, record("https://example.com/gone", time.Now().UTC())))
	mr.Del(s.eventKey("https://example.com/gone"))

	got, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "https://example.com/kept", got[0].SourceURL)
}

func TestPrefixIsolation(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	a := New(client, "a:")
	b := New(client, "b:")
	ctx := context.Background()

	require.NoError(t, a.Insert(ctx, record("https://example.com/x", time.Now().UTC())))

	ok, err := b.Exists(ctx, "https://example.com/x")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, b.Insert(ctx, record("https://example.com/x", time.Now().UTC())))
}

func TestServerErrors(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t, "")
	mr.SetError("server down")
	ctx := context.Background()

	_, err := s.Exists(ctx, "https://example.com/a")
	require.Error(t, err)
	require.Error(t, s.Insert(ctx, record("https://example.com/a", time.Now().UTC())))
	_, err = s.List(ctx, 1)
	require.Error(t, err)
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyURL)

	_, err = NewClient(context.Background(), "not-a-url")
	require.Error(t, err)

	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, client.Close())
}
