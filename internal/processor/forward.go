package processor

// expandEach realizes the forwarding operator: for each declared each-input
// whose bound value is an iterable ([]any), it computes the Cartesian
// product across every each position, re-pairing each combination with the
// scalar inputs' single values. With no each-inputs present it returns the
// binding unchanged, one element.
func expandEach(inputs []InputSpec, binding Binding) []Binding {
	var eachNames []string
	for _, in := range inputs {
		if in.Each {
			eachNames = append(eachNames, in.Name)
		}
	}
	if len(eachNames) == 0 {
		return []Binding{binding}
	}

	combos := []Binding{{}}
	for k, v := range binding {
		isEach := false
		for _, n := range eachNames {
			if n == k {
				isEach = true
				break
			}
		}
		if !isEach {
			for _, c := range combos {
				c[k] = v
			}
		}
	}

	for _, name := range eachNames {
		values := toSlice(binding[name])
		var next []Binding
		for _, c := range combos {
			for _, v := range values {
				nc := make(Binding, len(c)+1)
				for k, vv := range c {
					nc[k] = vv
				}
				nc[name] = v
				next = append(next, nc)
			}
		}
		combos = next
	}
	return combos
}

func toSlice(v any) []any {
	if vs, ok := v.([]any); ok {
		return vs
	}
	return []any{v}
}
