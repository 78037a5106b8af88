package docstore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type doc string

func (d doc) DocKey() string { return string(d) }

func TestWriteErrorDuplicates(t *testing.T) {
	t.Parallel()

	we := &WriteError{Op: "insert_many", Rejected: []Rejection{
		{Index: 0, Key: "a", Code: CodeDuplicateKey, Message: "dup"},
		{Index: 2, Key: "c", Code: CodeDuplicateKey, Message: "dup"},
	}}
	require.True(t, we.OnlyDuplicates())
	require.Len(t, we.Duplicates(), 2)
	require.Equal(t, "insert_many: 2 writes rejected (2 duplicate)", we.Error())

	we.Rejected = append(we.Rejected, Rejection{Index: 3, Key: "d", Message: "disk full"})
	require.False(t, we.OnlyDuplicates())
	require.Equal(t, "insert_many: 3 writes rejected (2 duplicate): disk full", we.Error())
}

func TestAsWriteErrorUnwraps(t *testing.T) {
	t.Parallel()

	base := &WriteError{Op: "bulk_write"}
	got, ok := AsWriteError(fmt.Errorf("flush pages: %w", base))
	require.True(t, ok)
	require.Same(t, base, got)

	_, ok = AsWriteError(fmt.Errorf("plain"))
	require.False(t, ok)
	require.False(t, (&WriteError{}).OnlyDuplicates())
}

func TestWriteBuilders(t *testing.T) {
	t.Parallel()

	require.Equal(t, Write[doc]{Kind: WriteInsert, Key: "a", Doc: "a"}, InsertDoc(doc("a")))
	require.Equal(t, Write[doc]{Kind: WritePush, Key: "cat", Member: "x", Delta: 2}, Push[doc]("cat", "x", 2))
	require.Equal(t, "add_to_set", WriteAddToSet.String())
}
