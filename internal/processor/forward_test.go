package processor

import (
	"strconv"
	"testing"
)

func TestExpandEach_NoEachInputsPassesThrough(t *testing.T) {
	inputs := []InputSpec{{Name: "x"}}
	out := expandEach(inputs, Binding{"x": 1})
	if len(out) != 1 || out[0]["x"] != 1 {
		t.Fatalf("unexpected: %+v", out)
	}
}

func TestExpandEach_CartesianProduct(t *testing.T) {
	inputs := []InputSpec{{Name: "scalar"}, {Name: "each1", Each: true}, {Name: "each2", Each: true}}
	binding := Binding{
		"scalar": "s",
		"each1":  []any{"a", "b"},
		"each2":  []any{1, 2},
	}
	out := expandEach(inputs, binding)
	if len(out) != 4 {
		t.Fatalf("expected 4 combinations, got %d: %+v", len(out), out)
	}
	seen := map[string]bool{}
	for _, b := range out {
		if b["scalar"] != "s" {
			t.Errorf("scalar not carried through: %+v", b)
		}
		key := b["each1"].(string) + "-" + strconv.Itoa(b["each2"].(int))
		seen[key] = true
	}
	for _, want := range []string{"a-1", "a-2", "b-1", "b-2"} {
		if !seen[want] {
			t.Errorf("missing combination %s in %v", want, seen)
		}
	}
}
