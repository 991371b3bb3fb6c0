package queryexpr

import "testing"

func TestClassifyPlainScan(t *testing.T) {
	e := NewScan(TableDesc{TableID: 1, TableName: "players"})
	kind, err := Classify(e)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if kind != Scan {
		t.Fatalf("got %s, want Scan", kind)
	}
}

func TestClassifyScanWithFilterAndProject(t *testing.T) {
	e := NewScan(TableDesc{TableID: 1, TableName: "players"})
	e.Ops = append(e.Ops,
		Op{Filter: &FilterOp{ColEq: "name", Value: []byte("zoe")}},
		Op{Project: &ProjectOp{Columns: []string{"id", "name"}}},
	)
	kind, err := Classify(e)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if kind != Scan {
		t.Fatalf("got %s, want Scan", kind)
	}
}

func TestClassifyOneToAtMostOneIndexJoinIsSemijoin(t *testing.T) {
	probe := NewScan(TableDesc{TableID: 2, TableName: "accounts"})
	e := NewScan(TableDesc{TableID: 1, TableName: "players"})
	e.Ops = append(e.Ops, Op{IndexJoin: &IndexJoin{
		ProbeSide:      probe,
		JoinColumn:     "account_id",
		ProbeColumn:    "id",
		OneToAtMostOne: true,
	}})
	kind, err := Classify(e)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if kind != Semijoin {
		t.Fatalf("got %s, want Semijoin", kind)
	}
}

func TestClassifyIndexJoinNotOneToAtMostOneIsUnsupported(t *testing.T) {
	probe := NewScan(TableDesc{TableID: 2, TableName: "accounts"})
	e := NewScan(TableDesc{TableID: 1, TableName: "players"})
	e.Ops = append(e.Ops, Op{IndexJoin: &IndexJoin{
		ProbeSide:      probe,
		JoinColumn:     "account_id",
		ProbeColumn:    "id",
		OneToAtMostOne: false,
	}})
	if _, err := Classify(e); err == nil {
		t.Fatal("expected an error for a non-one-to-at-most-one index join")
	}
}

func TestClassifyTwoIndexJoinsIsUnsupported(t *testing.T) {
	probe := NewScan(TableDesc{TableID: 2, TableName: "accounts"})
	e := NewScan(TableDesc{TableID: 1, TableName: "players"})
	e.Ops = append(e.Ops,
		Op{IndexJoin: &IndexJoin{ProbeSide: probe, JoinColumn: "a", ProbeColumn: "id", OneToAtMostOne: true}},
		Op{IndexJoin: &IndexJoin{ProbeSide: probe, JoinColumn: "b", ProbeColumn: "id", OneToAtMostOne: true}},
	)
	if _, err := Classify(e); err == nil {
		t.Fatal("expected an error for two index joins")
	}
}

func TestClassifyVirtualSourceIsMissingPhysicalSource(t *testing.T) {
	e := QueryExpr{Source: SourceExpr{Virtual: &MemTable{}}}
	if _, err := Classify(e); err == nil {
		t.Fatal("expected an error for a virtual-only source")
	}
}

func TestClassifyJoinProbeSideWithoutPhysicalTableErrors(t *testing.T) {
	probe := QueryExpr{Source: SourceExpr{Virtual: &MemTable{}}}
	e := NewScan(TableDesc{TableID: 1, TableName: "players"})
	e.Ops = append(e.Ops, Op{IndexJoin: &IndexJoin{
		ProbeSide: probe, JoinColumn: "account_id", ProbeColumn: "id", OneToAtMostOne: true,
	}})
	if _, err := Classify(e); err == nil {
		t.Fatal("expected an error when the join's probe side has no physical table")
	}
}

func TestQueryExprLessOrdersByTableIDThenOpCount(t *testing.T) {
	a := NewScan(TableDesc{TableID: 1, TableName: "a"})
	b := NewScan(TableDesc{TableID: 2, TableName: "b"})
	if !a.Less(b) {
		t.Fatal("expected table id 1 to sort before table id 2")
	}
	if b.Less(a) {
		t.Fatal("expected table id 2 not to sort before table id 1")
	}

	c := NewScan(TableDesc{TableID: 1, TableName: "a"})
	c.Ops = append(c.Ops, Op{Filter: &FilterOp{ColEq: "x"}})
	if !a.Less(c) {
		t.Fatal("expected fewer ops to sort first")
	}
}

func TestQueryExprCloneIsIndependent(t *testing.T) {
	probe := NewScan(TableDesc{TableID: 2, TableName: "accounts"})
	e := NewScan(TableDesc{TableID: 1, TableName: "players"})
	e.Ops = append(e.Ops, Op{IndexJoin: &IndexJoin{ProbeSide: probe, JoinColumn: "a", ProbeColumn: "id"}})

	clone := e.Clone()
	clone.Ops[0].IndexJoin.JoinColumn = "mutated"
	if e.Ops[0].IndexJoin.JoinColumn == "mutated" {
		t.Fatal("mutating the clone's nested IndexJoin affected the original")
	}
}
