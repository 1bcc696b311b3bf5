package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"caregistrar/core/types"
)

type payload struct{ evt *types.Event }

func (p payload) EventType() string    { return p.evt.Type }
func (p payload) Event() *types.Event { return p.evt }

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	j, err := Open("sqlite", dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendAndRecentNewestFirst(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	for i, name := range []string{"alice", "bob", "alice"} {
		_, err := j.Append(ctx, &types.Event{
			Type:       "names.registered",
			Attributes: map[string]string{"name": name, "fee": fmt.Sprint(i)},
		})
		require.NoError(t, err)
	}

	entries, err := j.Recent(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, int64(3), entries[0].Seq)
	require.Equal(t, int64(1), entries[2].Seq)

	evt, err := entries[0].Event()
	require.NoError(t, err)
	require.Equal(t, "alice", evt.Attr("name"))
	require.Equal(t, "2", evt.Attr("fee"))

	filtered, err := j.Recent(ctx, 10, "alice")
	require.NoError(t, err)
	require.Len(t, filtered, 2)

	limited, err := j.Recent(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, int64(3), limited[0].Seq)
}

func TestEmitPersistsPayloadEvents(t *testing.T) {
	j := openTestJournal(t)
	j.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	j.Emit(payload{evt: &types.Event{Type: "names.renewed", Attributes: map[string]string{"name": "carol"}}})

	entries, err := j.Recent(context.Background(), 0, "carol")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "names.renewed", entries[0].Type)
	require.Equal(t, int64(1_700_000_000), entries[0].CreatedAt.Unix())
}

func TestSequenceResumesAfterReopen(t *testing.T) {
	j := openTestJournal(t)
	_, err := j.Append(context.Background(), &types.Event{Type: "names.registered", Attributes: map[string]string{"name": "dave"}})
	require.NoError(t, err)

	reopened, err := New(j.db, nil)
	require.NoError(t, err)
	entry, err := reopened.Append(context.Background(), &types.Event{Type: "names.renewed", Attributes: map[string]string{"name": "dave"}})
	require.NoError(t, err)
	require.Equal(t, int64(2), entry.Seq)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn", nil)
	require.Error(t, err)
}
