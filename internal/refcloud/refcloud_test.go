package refcloud

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distributeddb/cloudsync/internal/cloudsync"
)

func TestDouble_InsertThenQueryRoundTrips(t *testing.T) {
	d := New(30000, 50)
	ctx := context.Background()

	rec := cloudsync.NewVBucket()
	rec.Set("name", cloudsync.StringValue("alice"))

	extends := []map[string]cloudsync.Value{{}}
	result, status := d.BatchInsert(ctx, "users", []*cloudsync.VBucket{rec}, extends)

	require.Equal(t, cloudsync.StatusOK, status)
	assert.Equal(t, 1, result.SuccessCount)

	gidVal, ok := extends[0][cloudsync.FieldGid]
	require.True(t, ok)
	assert.NotEmpty(t, gidVal.Str)

	rows, qstatus := d.Query(ctx, "users", map[string]cloudsync.Value{})
	require.Equal(t, cloudsync.StatusQueryEnd, qstatus)
	require.Len(t, rows, 1)

	name, _ := rows[0].Get("name")
	assert.Equal(t, "alice", name.Str)

	gid, _ := rows[0].Get(cloudsync.FieldGid)
	assert.Equal(t, gidVal.Str, gid.Str)
}

func TestDouble_QueryEmptyPageRotatesCursor(t *testing.T) {
	d := New(30000, 50)
	ctx := context.Background()

	extend := map[string]cloudsync.Value{cloudsync.FieldCursor: cloudsync.StringValue("")}
	rows, status := d.Query(ctx, "empty", extend)

	assert.Nil(t, rows)
	assert.Equal(t, cloudsync.StatusOK, status)
	assert.Contains(t, extend, cloudsync.FieldCursor)
}

func TestDouble_LockIsExclusive(t *testing.T) {
	d := New(30000, 50)
	ctx := context.Background()

	_, status := d.Lock(ctx)
	require.Equal(t, cloudsync.StatusOK, status)

	_, status = d.Lock(ctx)
	assert.Equal(t, cloudsync.StatusBusy, status)

	require.Equal(t, cloudsync.StatusOK, d.Unlock(ctx))

	_, status = d.Lock(ctx)
	assert.Equal(t, cloudsync.StatusOK, status)
}

func TestDouble_HeartbeatRequiresLock(t *testing.T) {
	d := New(30000, 50)
	ctx := context.Background()

	assert.Equal(t, cloudsync.StatusInvalidArgs, d.Heartbeat(ctx))

	_, _ = d.Lock(ctx)
	assert.Equal(t, cloudsync.StatusOK, d.Heartbeat(ctx))
	assert.Equal(t, int64(1), d.HeartbeatCount())
}

func TestDouble_BatchDeleteMarksTombstone(t *testing.T) {
	d := New(30000, 50)
	ctx := context.Background()

	rec := cloudsync.NewVBucket()
	extends := []map[string]cloudsync.Value{{}}
	d.BatchInsert(ctx, "t", []*cloudsync.VBucket{rec}, extends)

	gid := extends[0][cloudsync.FieldGid]

	result, status := d.BatchDelete(ctx, "t", []map[string]cloudsync.Value{{cloudsync.FieldGid: gid}})
	require.Equal(t, cloudsync.StatusOK, status)
	assert.Equal(t, 1, result.SuccessCount)

	rows, qstatus := d.Query(ctx, "t", map[string]cloudsync.Value{})
	require.Equal(t, cloudsync.StatusQueryEnd, qstatus)
	require.Len(t, rows, 1)

	deleted, _ := rows[0].Get(cloudsync.FieldDeleted)
	assert.True(t, deleted.Bool)
}
