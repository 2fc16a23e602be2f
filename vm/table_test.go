package vm

import (
	"reflect"
	"testing"
)

// ---------------------------------------------------------------------------
// Table ordering and metatable tests
// ---------------------------------------------------------------------------

func TestTableInsertionOrder(t *testing.T) {
	tbl := NewTable()
	tbl.Set("b", Int(1))
	tbl.Set("a", Int(2))
	tbl.Set("c", Int(3))
	want := []string{"b", "a", "c"}
	if got := tbl.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("keys: got %v, want %v", got, want)
	}
}

func TestTableReassignKeepsPosition(t *testing.T) {
	tbl := NewTable()
	tbl.Set("b", Int(1))
	tbl.Set("a", Int(2))
	tbl.Set("b", Int(9))
	want := []string{"b", "a"}
	if got := tbl.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("keys after reassign: got %v, want %v", got, want)
	}
	if v, _ := tbl.Get("b"); !v.Equal(Int(9)) {
		t.Errorf("b: got %s, want 9", v.Display())
	}
}

func TestTableDelete(t *testing.T) {
	tbl := NewTable()
	tbl.Set("a", Int(1))
	tbl.Set("b", Int(2))
	tbl.Set("c", Int(3))
	tbl.Delete("b")
	want := []string{"a", "c"}
	if got := tbl.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("keys after delete: got %v, want %v", got, want)
	}
	if _, ok := tbl.Get("b"); ok {
		t.Error("deleted key still present")
	}
}

func TestMetatableLink(t *testing.T) {
	tbl := NewTable()
	meta := NewTable()
	if tbl.Meta() != nil {
		t.Error("fresh table should have no metatable")
	}
	tbl.SetMeta(meta)
	if tbl.Meta() != meta {
		t.Error("metatable pointer should be shared, not copied")
	}
	tbl.SetMeta(nil)
	if tbl.Meta() != nil {
		t.Error("SetMeta(nil) should detach")
	}
}
