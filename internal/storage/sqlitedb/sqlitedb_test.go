package sqlitedb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/vela-systems/reactorhost/internal/relvalue"
	"github.com/vela-systems/reactorhost/internal/storage"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCreateTableAndGetAllTables(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.CreateTable("users", storage.TableTypeUser, storage.TableAccessPublic, "alice", []string{"id", "name"})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	tables, err := db.GetAllTables(ctx, nil)
	if err != nil {
		t.Fatalf("GetAllTables: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("len(tables) = %d, want 1", len(tables))
	}
	if tables[0].TableID != id || tables[0].TableName != "users" {
		t.Errorf("tables[0] = %+v", tables[0])
	}
	if len(tables[0].Columns) != 2 || tables[0].Columns[0] != "id" {
		t.Errorf("tables[0].Columns = %v", tables[0].Columns)
	}
}

func TestInsertFetchAndDeleteByColEq(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.CreateTable("widgets", storage.TableTypeUser, storage.TableAccessPublic, "alice", []string{"name", "color"})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	row1 := relvalue.Row{Columns: []relvalue.Value{[]byte("gizmo"), []byte("red")}}
	row2 := relvalue.Row{Columns: []relvalue.Value{[]byte("gadget"), []byte("red")}}
	row3 := relvalue.Row{Columns: []relvalue.Value{[]byte("doohickey"), []byte("blue")}}

	for _, r := range []relvalue.Row{row1, row2, row3} {
		if _, err := db.InsertRow(ctx, nil, id, r); err != nil {
			t.Fatalf("InsertRow: %v", err)
		}
	}

	rows, err := db.FetchRows(ctx, nil, id)
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}

	n, err := db.DeleteByColEq(ctx, nil, id, 1, []byte("red"))
	if err != nil {
		t.Fatalf("DeleteByColEq: %v", err)
	}
	if n != 2 {
		t.Fatalf("DeleteByColEq removed %d rows, want 2", n)
	}

	rows, err = db.FetchRows(ctx, nil, id)
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) after delete = %d, want 1", len(rows))
	}
	if string(rows[0].Row.Columns[0]) != "doohickey" {
		t.Errorf("remaining row = %v, want doohickey", rows[0].Row.Columns)
	}
}

func TestInsertRowIsIdempotentByPrimaryKey(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.CreateTable("dupes", storage.TableTypeUser, storage.TableAccessPublic, "alice", []string{"v"})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	row := relvalue.Row{Columns: []relvalue.Value{[]byte("same")}}
	if _, err := db.InsertRow(ctx, nil, id, row); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if _, err := db.InsertRow(ctx, nil, id, row); err != nil {
		t.Fatalf("InsertRow (second): %v", err)
	}

	rows, err := db.FetchRows(ctx, nil, id)
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1 (duplicate insert should dedupe by pk)", len(rows))
	}
}

func TestCreateIndexIsRecordedAndHarmless(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.CreateTable("indexed", storage.TableTypeUser, storage.TableAccessPublic, "alice", []string{"k"})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := db.CreateIndex(ctx, nil, id, "k_idx"); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := db.CreateIndex(ctx, nil, id, "k_idx"); err != nil {
		t.Fatalf("CreateIndex (duplicate): %v", err)
	}
}
