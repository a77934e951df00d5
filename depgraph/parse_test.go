package depgraph

import (
	"reflect"
	"testing"
)

func TestParseDependenciesJSONForm(t *testing.T) {
	deps, err := ParseDependencies(`{"deps":[1,2,3]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(deps, []uint64{1, 2, 3}) {
		t.Fatalf("got %v", deps)
	}
}

func TestParseDependenciesKeyValueForm(t *testing.T) {
	deps, err := ParseDependencies("deps=1,2,3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(deps, []uint64{1, 2, 3}) {
		t.Fatalf("got %v", deps)
	}
}

func TestParseDependenciesKeyValueFormWithOtherFields(t *testing.T) {
	deps, err := ParseDependencies("note=quarterly grant;deps=5,6")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(deps, []uint64{5, 6}) {
		t.Fatalf("got %v", deps)
	}
}

func TestParseDependenciesBothFormsEquivalent(t *testing.T) {
	a, err := ParseDependencies(`{"deps":[1,2,3]}`)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	b, err := ParseDependencies("deps=1,2,3")
	if err != nil {
		t.Fatalf("kv: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("forms diverge: %v vs %v", a, b)
	}
}

func TestParseDependenciesEmptyMemo(t *testing.T) {
	deps, err := ParseDependencies("")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(deps) != 0 {
		t.Fatalf("got %v, want empty", deps)
	}
}

func TestParseDependenciesNoDepsKey(t *testing.T) {
	deps, err := ParseDependencies("memo=quarterly distribution")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(deps) != 0 {
		t.Fatalf("got %v, want empty", deps)
	}
}

func TestParseDependenciesInvalidID(t *testing.T) {
	_, err := ParseDependencies("deps=1,x,3")
	if err == nil {
		t.Fatalf("expected error for non-numeric id")
	}
}
