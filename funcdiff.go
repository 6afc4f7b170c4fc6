package hotpatch

import (
	"errors"
	"fmt"
	"reflect"
)

// funcDifferences lists where two function signatures disagree. A nil entry
// means that position matches.
type funcDifferences struct {
	In       []*argDifference
	Out      []*argDifference
	Variadic bool
}

type argDifference struct {
	A reflect.Type
	B reflect.Type
}

// Error returns nil if the signatures match.
func (d *funcDifferences) Error() error {
	errs := []error{}
	for i, arg := range d.In {
		if arg != nil {
			errs = append(errs, fmt.Errorf("argument %d: %v != %v", i, arg.A, arg.B))
		}
	}
	for i, out := range d.Out {
		if out != nil {
			errs = append(errs, fmt.Errorf("output %d: %v != %v", i, out.A, out.B))
		}
	}
	if d.Variadic {
		errs = append(errs, errors.New("only one function is variadic"))
	}

	return errors.Join(errs...)
}

func diffFuncs(a, b reflect.Value) *funcDifferences {
	at := a.Type()
	bt := b.Type()

	return &funcDifferences{
		In:       diffTypes(at.NumIn(), bt.NumIn(), at.In, bt.In),
		Out:      diffTypes(at.NumOut(), bt.NumOut(), at.Out, bt.Out),
		Variadic: at.IsVariadic() != bt.IsVariadic(),
	}
}

// diffTypes compares two type lists position by position. Positions only one
// side has are reported with nil for the missing side.
func diffTypes(na, nb int, a, b func(int) reflect.Type) []*argDifference {
	diff := make([]*argDifference, max(na, nb))
	for i := range diff {
		var at, bt reflect.Type
		if i < na {
			at = a(i)
		}
		if i < nb {
			bt = b(i)
		}
		if at != bt {
			diff[i] = &argDifference{A: at, B: bt}
		}
	}
	return diff
}
