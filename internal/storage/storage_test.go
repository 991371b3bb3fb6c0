package storage_test

import (
	"context"
	"testing"

	"github.com/vela-systems/reactorhost/internal/queryexpr"
	"github.com/vela-systems/reactorhost/internal/relvalue"
	"github.com/vela-systems/reactorhost/internal/storage"
	"github.com/vela-systems/reactorhost/internal/storage/memdb"
)

func col(s string) relvalue.Value { return relvalue.Value(s) }

func TestRunQueryScan(t *testing.T) {
	db := memdb.New()
	tID := db.CreateTable("t", storage.TableTypeUser, storage.TableAccessPublic, "alice", []string{"id", "v"})
	db.Insert(tID, relvalue.Row{Columns: []relvalue.Value{col("1"), col("a")}})
	db.Insert(tID, relvalue.Row{Columns: []relvalue.Value{col("2"), col("b")}})

	expr := queryexpr.NewScan(queryexpr.TableDesc{TableID: tID, TableName: "t"})
	results, err := storage.RunQuery(context.Background(), db, memdb.Tx{}, expr, storage.AuthCtx{})
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if len(results) != 1 || len(results[0].Rows) != 2 {
		t.Fatalf("RunQuery = %+v, want 1 result with 2 rows", results)
	}
}

func TestRunQueryScanWithFilter(t *testing.T) {
	db := memdb.New()
	tID := db.CreateTable("t", storage.TableTypeUser, storage.TableAccessPublic, "alice", []string{"id", "v"})
	db.Insert(tID, relvalue.Row{Columns: []relvalue.Value{col("1"), col("a")}})
	db.Insert(tID, relvalue.Row{Columns: []relvalue.Value{col("2"), col("b")}})

	expr := queryexpr.NewScan(queryexpr.TableDesc{TableID: tID, TableName: "t"})
	expr.Ops = append(expr.Ops, queryexpr.Op{Filter: &queryexpr.FilterOp{ColEq: "col0", Value: []byte("2")}})

	results, err := storage.RunQuery(context.Background(), db, memdb.Tx{}, expr, storage.AuthCtx{})
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if len(results) != 1 || len(results[0].Rows) != 1 {
		t.Fatalf("RunQuery = %+v, want 1 result with 1 row", results)
	}
	if string(results[0].Rows[0].Row.Columns[1]) != "b" {
		t.Errorf("filtered row = %q, want %q", results[0].Rows[0].Row.Columns[1], "b")
	}
}

func TestRunQuerySemijoin(t *testing.T) {
	db := memdb.New()
	a := db.CreateTable("a", storage.TableTypeUser, storage.TableAccessPublic, "alice", []string{"id"})
	b := db.CreateTable("b", storage.TableTypeUser, storage.TableAccessPublic, "alice", []string{"a_id"})

	db.Insert(a, relvalue.Row{Columns: []relvalue.Value{col("1")}})
	db.Insert(a, relvalue.Row{Columns: []relvalue.Value{col("2")}})
	db.Insert(b, relvalue.Row{Columns: []relvalue.Value{col("1")}})

	expr := queryexpr.NewScan(queryexpr.TableDesc{TableID: a, TableName: "a"})
	expr.Ops = append(expr.Ops, queryexpr.Op{IndexJoin: &queryexpr.IndexJoin{
		ProbeSide:      queryexpr.NewScan(queryexpr.TableDesc{TableID: b, TableName: "b"}),
		JoinColumn:     "col0",
		ProbeColumn:    "col0",
		OneToAtMostOne: true,
	}})

	results, err := storage.RunQuery(context.Background(), db, memdb.Tx{}, expr, storage.AuthCtx{})
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if len(results) != 1 || len(results[0].Rows) != 1 {
		t.Fatalf("RunQuery = %+v, want 1 result with 1 row (only a.id=1 matches)", results)
	}
	if string(results[0].Rows[0].Row.Columns[0]) != "1" {
		t.Errorf("joined row = %q, want id 1", results[0].Rows[0].Row.Columns[0])
	}
}

func TestClassify(t *testing.T) {
	tdesc := queryexpr.TableDesc{TableID: 1, TableName: "t"}
	scan := queryexpr.NewScan(tdesc)
	if kind, err := queryexpr.Classify(scan); err != nil || kind != queryexpr.Scan {
		t.Errorf("Classify(scan) = %v, %v, want Scan, nil", kind, err)
	}

	join := queryexpr.NewScan(tdesc)
	join.Ops = append(join.Ops, queryexpr.Op{IndexJoin: &queryexpr.IndexJoin{
		ProbeSide:      queryexpr.NewScan(queryexpr.TableDesc{TableID: 2, TableName: "u"}),
		JoinColumn:     "col0",
		ProbeColumn:    "col0",
		OneToAtMostOne: true,
	}})
	if kind, err := queryexpr.Classify(join); err != nil || kind != queryexpr.Semijoin {
		t.Errorf("Classify(join) = %v, %v, want Semijoin, nil", kind, err)
	}

	unsupported := queryexpr.NewScan(tdesc)
	unsupported.Ops = append(unsupported.Ops,
		queryexpr.Op{IndexJoin: &queryexpr.IndexJoin{ProbeSide: queryexpr.NewScan(queryexpr.TableDesc{TableID: 2, TableName: "u"}), OneToAtMostOne: true}},
		queryexpr.Op{IndexJoin: &queryexpr.IndexJoin{ProbeSide: queryexpr.NewScan(queryexpr.TableDesc{TableID: 3, TableName: "v"}), OneToAtMostOne: true}},
	)
	if _, err := queryexpr.Classify(unsupported); err == nil {
		t.Error("Classify(two joins) = nil error, want ErrUnsupportedQuery")
	}

	noSource := queryexpr.QueryExpr{}
	if _, err := queryexpr.Classify(noSource); err == nil {
		t.Error("Classify(no source) = nil error, want ErrMissingPhysicalSource")
	}
}
