// Package transform defines the per-item computation applied by workers.
//
// A Func must be pure: it may be called from any worker at the same time
// without synchronization. A returned error fails only the item at hand.
package transform

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrOverflow is returned when the result does not fit in an int.
var ErrOverflow = errors.New("integer overflow")

// Func maps one work item to one result.
type Func func(item int) (int, error)

// Error records a failed transformation of a single item.
type Error struct {
	Item int
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transform item %d: %v", e.Item, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Double multiplies item by two.
func Double(item int) (int, error) {
	if item > math.MaxInt/2 || item < math.MinInt/2 {
		return 0, ErrOverflow
	}
	return item * 2, nil
}

// Square multiplies item by itself.
func Square(item int) (int, error) {
	if item != 0 {
		abs := item
		if abs < 0 {
			if abs == math.MinInt {
				return 0, ErrOverflow
			}
			abs = -abs
		}
		if abs > math.MaxInt/abs {
			return 0, ErrOverflow
		}
	}
	return item * item, nil
}

// Identity returns item unchanged.
func Identity(item int) (int, error) {
	return item, nil
}

var registry = map[string]Func{
	"double":   Double,
	"square":   Square,
	"identity": Identity,
}

// DefaultName is the transform used when none is configured.
const DefaultName = "double"

// Lookup returns the transform registered under name.
func Lookup(name string) (Func, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = DefaultName
	}
	fn, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return fn, nil
}

// Names lists the registered transforms.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Guard wraps fn so that errors and panics come back as *Error.
func Guard(fn Func) Func {
	return func(item int) (out int, err error) {
		defer func() {
			if r := recover(); r != nil {
				out, err = 0, &Error{Item: item, Err: fmt.Errorf("panic: %v", r)}
			}
		}()

		out, err = fn(item)
		if err != nil {
			var te *Error
			if !errors.As(err, &te) {
				err = &Error{Item: item, Err: err}
			}
			return 0, err
		}
		return out, nil
	}
}
