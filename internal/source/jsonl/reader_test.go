package jsonl

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-ingest/internal/ingest"
)

type collect struct {
	records []ingest.Record
	failAt  int
}

func (c *collect) SubmitRecord(_ context.Context, rec ingest.Record) error {
	if c.failAt > 0 && len(c.records)+1 == c.failAt {
		return errors.New("queue closed")
	}
	c.records = append(c.records, rec)
	return nil
}

func TestReadSkipsBadLines(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		`{"url":"a.com","title":"A","urls":["b.com"],"tokens":["cat"]}`,
		``,
		`{not json`,
		`{"title":"no url"}`,
		`{"url":"b.com","images":[{"url":"b.com/x.png","tokens":["x"]}]}`,
	}, "\n")

	sink := &collect{}
	stats, err := Read(context.Background(), "stdin", strings.NewReader(input), sink, nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Records)
	require.EqualValues(t, 2, stats.Rejected)
	require.Equal(t, "a.com", sink.records[0].URL)
	require.Equal(t, []string{"cat"}, sink.records[0].Tokens)
	require.Len(t, sink.records[1].Images, 1)
}

func TestReadStopsOnSubmitFailure(t *testing.T) {
	t.Parallel()

	input := `{"url":"a.com"}` + "\n" + `{"url":"b.com"}` + "\n" + `{"url":"c.com"}`
	sink := &collect{failAt: 2}
	stats, err := Read(context.Background(), "f.jsonl", strings.NewReader(input), sink, nil)
	require.ErrorContains(t, err, "f.jsonl line 2")
	require.EqualValues(t, 1, stats.Records)
}

func TestReadHonorsCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Read(ctx, "stdin", strings.NewReader(`{"url":"a.com"}`), &collect{}, nil)
	require.ErrorIs(t, err, context.Canceled)
}
