package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-ingest/internal/docstore"
	"github.com/JakeFAU/crawl-ingest/internal/docstore/memory"
	"github.com/JakeFAU/crawl-ingest/internal/ingest"
)

type linkGraph struct {
	store     *memory.Collection[ingest.Page]
	pages     *Writer[ingest.Page, ingest.Page]
	backlinks *Writer[ingest.Backlink, ingest.Page]
}

func newLinkGraph(threshold int) linkGraph {
	store := newPages()
	return linkGraph{
		store:     store,
		pages:     New[ingest.Page, ingest.Page](Config{Name: "pages", Threshold: threshold}, store, NewPageMerge(store), nil, nil),
		backlinks: New[ingest.Backlink, ingest.Page](Config{Name: "backlinks", Threshold: threshold}, store, NewBacklinkBulk(store), nil, nil),
	}
}

func fullPage(url, title string) ingest.Page {
	return ingest.Page{URL: url, Title: title, Backlinks: []string{}, FetchedAt: time.Unix(1700000000, 0).UTC()}
}

func TestBacklinkStubThenFullPage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := newLinkGraph(10)

	g.pages.Insert(ctx, ingest.Page{URL: "a.com", Backlinks: []string{}, URLs: []string{"b.com"}, Title: "A"})
	g.pages.Flush(ctx)
	g.backlinks.Insert(ctx, ingest.Backlink{Target: "b.com", Source: "a.com"})
	g.backlinks.Flush(ctx)

	stub, ok := g.store.Get("b.com")
	require.True(t, ok)
	require.True(t, stub.IsStub())

	g.pages.Insert(ctx, ingest.Page{URL: "b.com", Title: "B", Backlinks: []string{}})
	rep := g.pages.Flush(ctx)
	require.Equal(t, 1, rep.Duplicates)
	require.Equal(t, 1, rep.Merged)
	require.Equal(t, OutcomeConverged, rep.Outcome)

	got, ok := g.store.Get("b.com")
	require.True(t, ok)
	require.Equal(t, "B", got.Title)
	require.Equal(t, []string{"a.com"}, got.Backlinks)
}

func TestLinkExampleEitherOrder(t *testing.T) {
	t.Parallel()

	pageA := ingest.Page{URL: "a.com", Backlinks: []string{}, URLs: []string{"b.com"}}
	pageB := ingest.Page{URL: "b.com", Title: "B", Backlinks: []string{}}
	edge := ingest.Backlink{Target: "b.com", Source: "a.com"}

	for _, tc := range []struct {
		name string
		run  func(ctx context.Context, g linkGraph)
	}{
		{
			name: "backlink stub first",
			run: func(ctx context.Context, g linkGraph) {
				g.pages.Insert(ctx, pageA)
				g.pages.Flush(ctx)
				g.backlinks.Insert(ctx, edge)
				g.backlinks.Flush(ctx)
				g.pages.Insert(ctx, pageB)
				g.pages.Flush(ctx)
			},
		},
		{
			name: "full page first",
			run: func(ctx context.Context, g linkGraph) {
				g.pages.Insert(ctx, pageB)
				g.pages.Flush(ctx)
				g.pages.Insert(ctx, pageA)
				g.pages.Flush(ctx)
				g.backlinks.Insert(ctx, edge)
				g.backlinks.Flush(ctx)
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			g := newLinkGraph(10)
			tc.run(context.Background(), g)

			b, ok := g.store.Get("b.com")
			require.True(t, ok)
			require.Equal(t, "B", b.Title)
			require.Equal(t, []string{"a.com"}, b.Backlinks)

			a, ok := g.store.Get("a.com")
			require.True(t, ok)
			require.False(t, a.IsStub())
			require.Equal(t, []string{"b.com"}, a.URLs)
			require.Empty(t, a.Backlinks)
		})
	}
}

func TestUntitledPagePromotesStub(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := newLinkGraph(10)

	g.backlinks.Insert(ctx, ingest.Backlink{Target: "a.com", Source: "z.com"})
	g.backlinks.Flush(ctx)

	g.pages.Insert(ctx, ingest.Page{URL: "a.com", Description: "desc", URLs: []string{"b.com"}, Keywords: []string{"k"}})
	rep := g.pages.Flush(ctx)
	require.Equal(t, 1, rep.Duplicates)
	require.Equal(t, 1, rep.Merged)

	got, ok := g.store.Get("a.com")
	require.True(t, ok)
	require.Equal(t, "desc", got.Description)
	require.Equal(t, []string{"b.com"}, got.URLs)
	require.Equal(t, []string{"k"}, got.Keywords)
	require.Equal(t, []string{"z.com"}, got.Backlinks)
}

func TestUntitledPageReplacesFull(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := newLinkGraph(10)

	g.pages.Insert(ctx, fullPage("a.com", "A"))
	g.pages.Flush(ctx)
	g.pages.Insert(ctx, ingest.Page{URL: "a.com", Description: "desc", Backlinks: []string{}})
	g.pages.Flush(ctx)

	got, _ := g.store.Get("a.com")
	require.Empty(t, got.Title)
	require.Equal(t, "desc", got.Description)
}

func TestStubVersionsPromoteStoredStub(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := newLinkGraph(10)

	g.backlinks.Insert(ctx, ingest.Backlink{Target: "b.com", Source: "a.com"})
	g.backlinks.Flush(ctx)
	g.pages.Insert(ctx, ingest.Page{URL: "b.com", Backlinks: []string{"c.com"}})
	rep := g.pages.Flush(ctx)
	require.Equal(t, 1, rep.Merged)

	got, _ := g.store.Get("b.com")
	require.True(t, got.IsStub())
	require.Equal(t, []string{"a.com", "c.com"}, got.Backlinks)
}

func TestFullPageThenBacklink(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := newLinkGraph(10)

	g.pages.Insert(ctx, fullPage("b.com", "B"))
	g.pages.Flush(ctx)
	g.backlinks.InsertMany(ctx, []ingest.Backlink{{Target: "b.com", Source: "a.com"}, {Target: "b.com", Source: "c.com"}})
	g.backlinks.Flush(ctx)

	got, _ := g.store.Get("b.com")
	require.Equal(t, "B", got.Title)
	require.ElementsMatch(t, []string{"a.com", "c.com"}, got.Backlinks)
}

func TestStubPageNeverOverwritesFull(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := newLinkGraph(10)

	g.pages.Insert(ctx, fullPage("b.com", "B"))
	g.pages.Flush(ctx)
	g.pages.Insert(ctx, ingest.Page{URL: "b.com", Backlinks: []string{"a.com"}})
	g.pages.Flush(ctx)

	got, _ := g.store.Get("b.com")
	require.Equal(t, "B", got.Title)
	require.Equal(t, []string{"a.com"}, got.Backlinks)
}

func TestFullPageCollisionLastWriteWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := newLinkGraph(10)

	first := fullPage("b.com", "old")
	first.Keywords = []string{"k1"}
	g.pages.Insert(ctx, first)
	g.pages.Flush(ctx)

	second := fullPage("b.com", "new")
	g.pages.Insert(ctx, second)
	g.pages.Flush(ctx)

	got, _ := g.store.Get("b.com")
	require.Equal(t, "new", got.Title)
	require.Empty(t, got.Keywords)
}

func TestDuplicateWithinOneBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	g := newLinkGraph(10)

	g.pages.InsertMany(ctx, []ingest.Page{
		{URL: "b.com", Backlinks: []string{"a.com"}},
		fullPage("b.com", "B"),
		{URL: "b.com", Backlinks: []string{"c.com", "a.com"}},
	})
	rep := g.pages.Flush(ctx)
	require.Equal(t, 2, rep.Duplicates)
	require.Equal(t, 1, rep.Merged)

	got, _ := g.store.Get("b.com")
	require.Equal(t, "B", got.Title)
	require.Equal(t, []string{"a.com", "c.com"}, got.Backlinks)
}

func TestStubFullMergeAcrossWorkers(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		ctx := context.Background()
		g := newLinkGraph(1)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			g.backlinks.Insert(ctx, ingest.Backlink{Target: "b.com", Source: "a.com"})
		}()
		go func() {
			defer wg.Done()
			g.pages.Insert(ctx, fullPage("b.com", "B"))
		}()
		go func() {
			defer wg.Done()
			g.backlinks.Insert(ctx, ingest.Backlink{Target: "b.com", Source: "c.com"})
		}()
		wg.Wait()

		got, ok := g.store.Get("b.com")
		require.True(t, ok)
		require.Equal(t, "B", got.Title)
		require.ElementsMatch(t, []string{"a.com", "c.com"}, got.Backlinks)
	}
}

func TestPageMergeLookupFailureKeepsStubBacklinks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newPages()
	require.NoError(t, store.InsertMany(ctx, []ingest.Page{fullPage("b.com", "B")}))
	coll := &hooked[ingest.Page]{Collection: store, findErr: errors.New("cursor killed")}

	rep := NewPageMerge(coll).Flush(ctx, []ingest.Page{{URL: "b.com", Backlinks: []string{"a.com"}}})
	require.Equal(t, 1, rep.Merged)
	require.Zero(t, rep.Dropped)
	require.Error(t, rep.Err)

	got, _ := store.Get("b.com")
	require.Equal(t, "B", got.Title)
	require.Equal(t, []string{"a.com"}, got.Backlinks)
}

func TestPageMergeLookupFailureDropsDuplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newPages()
	require.NoError(t, store.BulkWrite(ctx, []docstore.Write[ingest.Page]{docstore.AddToSet[ingest.Page]("b.com", "a.com")}))
	coll := &hooked[ingest.Page]{Collection: store, findErr: errors.New("cursor killed")}

	rep := NewPageMerge(coll).Flush(ctx, []ingest.Page{fullPage("b.com", "B"), fullPage("c.com", "C")})
	require.Equal(t, 1, rep.Written)
	require.Equal(t, 1, rep.Dropped)
	require.Equal(t, OutcomePartial, rep.Outcome)
	require.Error(t, rep.Err)
}

func TestMergePage(t *testing.T) {
	t.Parallel()

	stub := ingest.Page{URL: "b.com", Backlinks: []string{"a.com", "c.com"}}
	full := fullPage("b.com", "B")
	full.Backlinks = []string{"c.com", "d.com"}

	merged := MergePage(stub, full)
	require.Equal(t, "B", merged.Title)
	require.Equal(t, []string{"c.com", "d.com", "a.com"}, merged.Backlinks)

	merged = MergePage(full, stub)
	require.Equal(t, "B", merged.Title)
	require.Equal(t, []string{"c.com", "d.com", "a.com"}, merged.Backlinks)

	newer := fullPage("b.com", "B2")
	require.Equal(t, newer, MergePage(full, newer))
}
