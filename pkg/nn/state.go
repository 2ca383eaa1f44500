package nn

import "fmt"

// State is a flat snapshot of parameter tensors keyed by name, the unit
// of model persistence.
type State map[string][]float32

// ExportState copies every parameter's data into a State.
func ExportState(params []*Param) State {
	st := make(State, len(params))
	for _, p := range params {
		cp := make([]float32, len(p.Data))
		copy(cp, p.Data)
		st[p.Name] = cp
	}
	return st
}

// ImportState loads a State into params. Every parameter must be present
// with a matching element count.
func ImportState(params []*Param, st State) error {
	for _, p := range params {
		data, ok := st[p.Name]
		if !ok {
			return fmt.Errorf("nn: state missing parameter %q", p.Name)
		}
		if len(data) != len(p.Data) {
			return fmt.Errorf("nn: parameter %q has %d elements, state has %d", p.Name, len(p.Data), len(data))
		}
		copy(p.Data, data)
	}
	return nil
}
