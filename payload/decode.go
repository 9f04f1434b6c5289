package payload

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrMalformed is matched by every DecodeError.
	ErrMalformed = errors.New("malformed payload")
	// ErrUnknownKind is returned when no decode function is registered for a kind.
	ErrUnknownKind = errors.New("no decoder for payload kind")
)

// DecodeError reports a line that could not be decoded into its classified
// schema. Line carries the offending text for diagnosis.
type DecodeError struct {
	Kind Kind
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports DecodeError as ErrMalformed.
func (e *DecodeError) Is(target error) bool { return target == ErrMalformed }

// DecodeFunc parses one line into a payload. Returned errors are wrapped into
// a DecodeError by the Decoder.
type DecodeFunc func(line string) (Payload, error)

// Decoder maps a kind to the function that parses it.
type Decoder struct {
	funcs map[Kind]DecodeFunc
}

// NewDecoder returns a Decoder that knows the gesture and car status schemas.
func NewDecoder() *Decoder {
	d := &Decoder{funcs: make(map[Kind]DecodeFunc)}
	d.Register(KindGesture, func(line string) (Payload, error) { return DecodeGesture(line) })
	d.Register(KindCarStatus, func(line string) (Payload, error) { return DecodeCarStatus(line) })
	return d
}

// Register installs or replaces the decode function for kind.
func (d *Decoder) Register(kind Kind, fn DecodeFunc) {
	d.funcs[kind] = fn
}

// Decode parses line against the schema for kind. Structural failures are
// returned as *DecodeError; the Decoder never logs.
func (d *Decoder) Decode(kind Kind, line string) (Payload, error) {
	fn, ok := d.funcs[kind]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "kind %s", kind)
	}
	p, err := fn(line)
	if err != nil {
		return nil, &DecodeError{Kind: kind, Line: line, Err: err}
	}
	if p == nil {
		return nil, &DecodeError{Kind: kind, Line: line, Err: errors.New("decoder returned no payload")}
	}
	return p, nil
}

type gestureWire struct {
	Acc  []float64 `json:"acc"`
	Gyro []float64 `json:"gyro"`
}

// DecodeGesture parses a line of the form {"acc":[x,y,z],"gyro":[x,y,z]}.
// Both arrays must be present and hold exactly three numbers.
func DecodeGesture(line string) (GestureSample, error) {
	var w gestureWire
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return GestureSample{}, errors.Wrap(err, "gesture")
	}
	var g GestureSample
	if err := copyTriple(g.Acc[:], w.Acc, "acc"); err != nil {
		return GestureSample{}, err
	}
	if err := copyTriple(g.Gyro[:], w.Gyro, "gyro"); err != nil {
		return GestureSample{}, err
	}
	return g, nil
}

func copyTriple(dst []float64, src []float64, field string) error {
	if src == nil {
		return errors.Newf("missing field %q", field)
	}
	if len(src) != 3 {
		return errors.Newf("field %q has %d elements, want 3", field, len(src))
	}
	copy(dst, src)
	return nil
}

type carStatusWire struct {
	Source     *string `json:"source"`
	LeftSpeed  *int    `json:"left_speed"`
	RightSpeed *int    `json:"right_speed"`
	IsMoving   *bool   `json:"is_moving"`
	Timestamp  *int64  `json:"timestamp"`
}

// DecodeCarStatus parses a car status object. Every field is required; the
// value of source and the timestamp ordering are not checked.
func DecodeCarStatus(line string) (CarStatus, error) {
	var w carStatusWire
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return CarStatus{}, errors.Wrap(err, "car status")
	}
	switch {
	case w.Source == nil:
		return CarStatus{}, errors.New(`missing field "source"`)
	case w.LeftSpeed == nil:
		return CarStatus{}, errors.New(`missing field "left_speed"`)
	case w.RightSpeed == nil:
		return CarStatus{}, errors.New(`missing field "right_speed"`)
	case w.IsMoving == nil:
		return CarStatus{}, errors.New(`missing field "is_moving"`)
	case w.Timestamp == nil:
		return CarStatus{}, errors.New(`missing field "timestamp"`)
	}
	return CarStatus{
		Source:     *w.Source,
		LeftSpeed:  *w.LeftSpeed,
		RightSpeed: *w.RightSpeed,
		IsMoving:   *w.IsMoving,
		Timestamp:  *w.Timestamp,
	}, nil
}
