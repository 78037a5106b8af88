package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://a.com/":      "https://a.com",
		"  https://a.com//  ": "https://a.com",
		"https://a.com/x":     "https://a.com/x",
		"   ":                 "",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeURL(in), "input %q", in)
	}
}

func TestPageNormalizeCollapsesDuplicates(t *testing.T) {
	t.Parallel()

	p := Page{
		URL:  " https://a.com/ ",
		URLs: []string{"https://b.com", "https://b.com/", ""},
	}
	p.Normalize()

	require.Equal(t, "https://a.com", p.URL)
	require.Equal(t, []string{"https://b.com"}, p.URLs)
	require.NotNil(t, p.Backlinks)
	require.Empty(t, p.Backlinks)
}

func TestPageStubState(t *testing.T) {
	t.Parallel()

	stub := StubPage("https://b.com")
	require.True(t, stub.IsStub())

	full := Page{URL: "https://b.com", Title: "B", FetchedAt: time.Unix(1, 0)}
	require.False(t, full.IsStub())

	require.True(t, stub.AddToSet("https://a.com"))
	require.False(t, stub.AddToSet("https://a.com"))
	require.Equal(t, []string{"https://a.com"}, stub.Backlinks)
}

func TestPageStubRequiresNoContent(t *testing.T) {
	t.Parallel()

	require.True(t, Page{URL: "a.com", Backlinks: []string{"z.com"}}.IsStub())
	for name, p := range map[string]Page{
		"description": {URL: "a.com", Description: "desc"},
		"keywords":    {URL: "a.com", Keywords: []string{"k"}},
		"urls":        {URL: "a.com", URLs: []string{"b.com"}},
		"fetched":     {URL: "a.com", FetchedAt: time.Unix(1, 0)},
	} {
		require.False(t, p.IsStub(), name)
	}
}

func TestFetchedAtAlwaysEncoded(t *testing.T) {
	t.Parallel()

	body, err := json.Marshal(Page{URL: "a.com"})
	require.NoError(t, err)
	require.Contains(t, string(body), `"fetched_at":"0001-01-01T00:00:00Z"`)

	body, err = json.Marshal(Image{URL: "a.com/x.png"})
	require.NoError(t, err)
	require.Contains(t, string(body), `"fetched_at":`)
}

func TestTokenEntryPostings(t *testing.T) {
	t.Parallel()

	entry := NewTokenEntry("cat", map[string]int64{"https://y.com": 1, "https://x.com": 2})
	require.Equal(t, []Posting{{URL: "https://x.com", Count: 2}, {URL: "https://y.com", Count: 1}}, entry.Postings)

	require.True(t, entry.Increment("https://x.com", 1))
	require.False(t, entry.Increment("https://z.com", 1))
	require.False(t, entry.Push("https://x.com", 5))
	require.True(t, entry.Push("https://z.com", 5))

	got, ok := entry.Posting("https://x.com")
	require.True(t, ok)
	require.EqualValues(t, 3, got.Count)

	restricted := entry.Restrict(map[string]struct{}{"https://z.com": {}})
	require.Equal(t, []Posting{{URL: "https://z.com", Count: 5}}, restricted.Postings)
	require.Len(t, entry.Postings, 3)
}

func TestItemValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, PageItem(Page{URL: "https://a.com"}).Validate())
	require.ErrorIs(t, PageItem(Page{URL: " / "}).Validate(), ErrMissingURL)
	require.ErrorIs(t, Item{Kind: KindPage}.Validate(), ErrMissingPayload)
	require.ErrorIs(t, BacklinkItem("https://b.com", "").Validate(), ErrMissingURL)
	require.ErrorIs(t, Item{Kind: Kind(42)}.Validate(), ErrUnknownKind)
	require.NoError(t, PageTokensItem().Validate())
}

func TestItemSanitizeDropsMalformedTokens(t *testing.T) {
	t.Parallel()

	item := PageTokensItem(
		TokenOccurrence{Token: "cat", URL: "https://x.com/"},
		TokenOccurrence{Token: "", URL: "https://x.com"},
		TokenOccurrence{Token: "dog", URL: " "},
	)
	require.Equal(t, 2, item.Sanitize())
	require.Equal(t, []TokenOccurrence{{Token: "cat", URL: "https://x.com"}}, item.Tokens)

	images := ImagesItem(Image{URL: "https://x.com/a.png/"}, Image{URL: ""})
	require.Equal(t, 1, images.Sanitize())
	require.Equal(t, "https://x.com/a.png", images.Images[0].URL)
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, got)
	}
	_, err := ParseKind("videos")
	require.Error(t, err)
}

func TestRecordItems(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	rec := Record{
		URL:    "https://a.com/",
		Title:  "A",
		URLs:   []string{"https://b.com", "https://a.com"},
		Tokens: []string{"cat", "cat"},
		Images: []ImageRecord{{URL: "https://a.com/cat.png", Alt: "cat", Tokens: []string{"cat"}}},
	}

	items := rec.Items(now)
	kinds := make([]Kind, 0, len(items))
	for _, it := range items {
		kinds = append(kinds, it.Kind)
	}
	require.Equal(t, []Kind{KindPage, KindBacklink, KindImages, KindImageTokens, KindPageTokens}, kinds)

	require.Equal(t, "https://a.com", items[0].Page.URL)
	require.Equal(t, now, items[0].Page.FetchedAt)
	require.Equal(t, Backlink{Target: "https://b.com", Source: "https://a.com"}, *items[1].Backlink)
	require.Equal(t, "https://a.com", items[2].Images[0].PageURL)
	require.Equal(t, []TokenOccurrence{{Token: "cat", URL: "https://a.com/cat.png"}}, items[3].Tokens)
	require.Len(t, items[4].Tokens, 2)

	require.Nil(t, Record{URL: " "}.Items(now))
}
