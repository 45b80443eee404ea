package fmsketch

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Stringify turns a value of the aggregated column into the canonical
// bytes that are counted. Values comparing equal must stringify equally.
type Stringify func(value any) ([]byte, error)

// Aggregate drives FMSketch through a host's transition, combine and
// final callbacks, where the partial state travels as an opaque byte
// buffer. An empty buffer stands for a state that saw no value yet.
type Aggregate struct {
	stringify Stringify
	opts      []Option
}

// NewAggregate creates an aggregate canonicalising values with
// _stringify_ and building states with _opts_
func NewAggregate(stringify Stringify, opts ...Option) *Aggregate {
	return &Aggregate{stringify: stringify, opts: opts}
}

func (a *Aggregate) valid() error {
	if a == nil || a.stringify == nil {
		return ErrInvocationContext
	}
	return nil
}

func (a *Aggregate) load(state []byte) (*FMSketch, error) {
	f := NewFMSketch(a.opts...)
	if len(state) == 0 {
		return f, nil
	}
	hasher := f.hasher
	if err := f.UnmarshalBinary(state); err != nil {
		return nil, err
	}
	if f.hasher != hasher {
		return nil, errors.Wrapf(ErrSizeMismatch, "state hashed with %s, aggregate uses %s", f.hasher, hasher)
	}
	return f, nil
}

// Transition adds _value_ to _state_ and returns the new state. A nil
// value leaves the state as it is.
func (a *Aggregate) Transition(state []byte, value any) ([]byte, error) {
	return a.TransitionBatch(state, []any{value})
}

// TransitionBatch adds all of _values_ to _state_ decoding and encoding
// the state once
func (a *Aggregate) TransitionBatch(state []byte, values []any) ([]byte, error) {
	if err := a.valid(); err != nil {
		return nil, err
	}
	f, err := a.load(state)
	if err != nil {
		return nil, err
	}
	changed := false
	for _, value := range values {
		if value == nil {
			continue
		}
		v, err := a.stringify(value)
		if err != nil {
			return nil, errors.Wrap(err, "fmsketch: error stringifying value")
		}
		if err := f.Insert(v); err != nil {
			return nil, err
		}
		changed = true
	}
	if !changed {
		return state, nil
	}
	return f.MarshalBinary()
}

// Combine merges two partial states. An empty side yields the other one.
func (a *Aggregate) Combine(x, y []byte) ([]byte, error) {
	if err := a.valid(); err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return y, nil
	}
	if len(y) == 0 {
		return x, nil
	}
	fx, err := a.load(x)
	if err != nil {
		return nil, err
	}
	fy, err := a.load(y)
	if err != nil {
		return nil, err
	}
	merged, err := Merge(fx, fy)
	if err != nil {
		return nil, err
	}
	return merged.MarshalBinary()
}

// Final returns the distinct count of _state_
func (a *Aggregate) Final(state []byte) (uint64, error) {
	if err := a.valid(); err != nil {
		return 0, err
	}
	f, err := a.load(state)
	if err != nil {
		return 0, err
	}
	return f.Count(), nil
}

// DefaultStringify renders the common Go types the way a SQL host prints
// them and falls back to fmt.Sprint
func DefaultStringify(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return append([]byte(nil), v...), nil
	case string:
		return []byte(v), nil
	case int:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int8:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int16:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	case uint:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint8:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint16:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint32:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint64:
		return strconv.AppendUint(nil, v, 10), nil
	case float32:
		return strconv.AppendFloat(nil, float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
	case bool:
		return strconv.AppendBool(nil, v), nil
	case time.Time:
		return []byte(v.UTC().Format(time.RFC3339Nano)), nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	case nil:
		return nil, errors.New("fmsketch: can't stringify nil")
	}
	return []byte(fmt.Sprint(value)), nil
}
