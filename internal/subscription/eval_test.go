package subscription_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vela-systems/reactorhost/internal/dbupdate"
	"github.com/vela-systems/reactorhost/internal/queryexpr"
	"github.com/vela-systems/reactorhost/internal/relvalue"
	"github.com/vela-systems/reactorhost/internal/storage"
	"github.com/vela-systems/reactorhost/internal/storage/memdb"
	"github.com/vela-systems/reactorhost/internal/subscription"
)

func col(s string) relvalue.Value { return relvalue.Value(s) }

func TestGetAllSkipsPrivateTablesOfOtherOwners(t *testing.T) {
	db := memdb.New()
	db.CreateTable("public_t", storage.TableTypeUser, storage.TableAccessPublic, "alice", []string{"id"})
	db.CreateTable("private_t", storage.TableTypeUser, storage.TableAccessPrivate, "bob", []string{"id"})
	db.CreateTable("sys_t", storage.TableTypeSystem, storage.TableAccessPublic, "alice", []string{"id"})

	qs, err := subscription.GetAll(context.Background(), db, memdb.Tx{}, storage.AuthCtx{Caller: "carol", Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, 1, qs.Len())
}

func TestGetAllIncludesOwnedPrivateTable(t *testing.T) {
	db := memdb.New()
	db.CreateTable("mine", storage.TableTypeUser, storage.TableAccessPrivate, "alice", []string{"id"})

	qs, err := subscription.GetAll(context.Background(), db, memdb.Tx{}, storage.AuthCtx{Caller: "alice", Owner: "alice"})
	require.NoError(t, err)
	require.Equal(t, 1, qs.Len())
}

func TestEvalDedupsAcrossQueries(t *testing.T) {
	db := memdb.New()
	tID := db.CreateTable("t", storage.TableTypeUser, storage.TableAccessPublic, "alice", []string{"id"})
	db.Insert(tID, relvalue.Row{Columns: []relvalue.Value{col("1")}})

	qs := subscription.NewQuerySet()
	scanA, err := subscription.NewSupportedQuery(queryexpr.NewScan(queryexpr.TableDesc{TableID: tID, TableName: "t"}))
	require.NoError(t, err)
	qs.Add(scanA)

	filtered := queryexpr.NewScan(queryexpr.TableDesc{TableID: tID, TableName: "t"})
	filtered.Ops = append(filtered.Ops, queryexpr.Op{Filter: &queryexpr.FilterOp{ColEq: "col0", Value: []byte("1")}})
	scanB, err := subscription.NewSupportedQuery(filtered)
	require.NoError(t, err)
	qs.Add(scanB)

	update, err := subscription.Eval(context.Background(), db, memdb.Tx{}, qs, storage.AuthCtx{Caller: "alice", Owner: "alice"})
	require.NoError(t, err)
	require.Len(t, update.Tables, 1)
	require.Len(t, update.Tables[0].Ops, 1, "the same row matched by two queries must appear once")
}

func TestEvalIncrScanInsertAndDelete(t *testing.T) {
	db := memdb.New()
	tID := db.CreateTable("t", storage.TableTypeUser, storage.TableAccessPublic, "alice", []string{"id"})
	row1 := relvalue.Row{Columns: []relvalue.Value{col("1")}}
	pk1 := db.Insert(tID, row1)

	qs := subscription.NewQuerySet()
	sq, err := subscription.NewSupportedQuery(queryexpr.NewScan(queryexpr.TableDesc{TableID: tID, TableName: "t"}))
	require.NoError(t, err)
	qs.Add(sq)

	row2 := relvalue.Row{Columns: []relvalue.Value{col("2")}}
	pk2 := db.Insert(tID, row2)
	db.Delete(tID, pk1)

	txUpdate := dbupdate.DatabaseUpdate{Tables: []dbupdate.DatabaseTableUpdate{{
		TableID:   tID,
		TableName: "t",
		Columns:   []string{"id"},
		Ops: []dbupdate.TableOp{
			{OpType: dbupdate.OpDelete, RowPK: pk1.Bytes(), Row: row1},
			{OpType: dbupdate.OpInsert, RowPK: pk2.Bytes(), Row: row2},
		},
	}}}

	out, err := subscription.EvalIncr(context.Background(), db, memdb.Tx{}, qs, txUpdate, storage.AuthCtx{Caller: "alice", Owner: "alice"})
	require.NoError(t, err)
	require.Len(t, out.Tables, 1)
	ops := out.Tables[0].Ops
	require.Len(t, ops, 2)
	require.Equal(t, dbupdate.OpDelete, ops[0].OpType, "deletes must precede inserts")
	require.Equal(t, dbupdate.OpInsert, ops[1].OpType)
}

func TestEvalIncrEmptyDeltaYieldsEmptyUpdate(t *testing.T) {
	db := memdb.New()
	tID := db.CreateTable("t", storage.TableTypeUser, storage.TableAccessPublic, "alice", []string{"id"})

	qs := subscription.NewQuerySet()
	sq, err := subscription.NewSupportedQuery(queryexpr.NewScan(queryexpr.TableDesc{TableID: tID, TableName: "t"}))
	require.NoError(t, err)
	qs.Add(sq)

	out, err := subscription.EvalIncr(context.Background(), db, memdb.Tx{}, qs, dbupdate.DatabaseUpdate{}, storage.AuthCtx{Caller: "alice", Owner: "alice"})
	require.NoError(t, err)
	require.True(t, out.IsEmpty())
}

func TestSubscriptionAddRemoveSubscriberNoDuplicates(t *testing.T) {
	sub := subscription.NewSubscription(subscription.NewQuerySet(), "client-a")
	sub.AddSubscriber("client-a")
	require.Len(t, sub.Subscribers(), 1)

	sub.AddSubscriber("client-b")
	require.Len(t, sub.Subscribers(), 2)

	require.True(t, sub.RemoveSubscriber("client-a"))
	require.Len(t, sub.Subscribers(), 1)
	require.False(t, sub.RemoveSubscriber("client-a"))
}
