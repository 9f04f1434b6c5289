// Package payload defines the typed records carried on the serial link and
// decodes classified raw lines into them.
//
// Every payload is a plain value: it is copied into each subscriber and is
// never retained by the pipeline after delivery.
package payload

// Kind identifies which schema a raw line belongs to.
type Kind uint8

const (
	// KindUnclassified marks a line that matched no classification rule.
	// It is a valid terminal outcome, not an error.
	KindUnclassified Kind = iota
	// KindGesture is a motion sample from the glove controller.
	KindGesture
	// KindCarStatus is a status report from the car.
	KindCarStatus
)

// String returns the lower-case name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindUnclassified:
		return "unclassified"
	case KindGesture:
		return "gesture"
	case KindCarStatus:
		return "car_status"
	default:
		return "unknown"
	}
}

// Payload is implemented by every decoded record.
type Payload interface {
	Kind() Kind
}

// GestureSample holds one IMU reading. Acc is linear acceleration in g and
// Gyro is angular rate in degrees per second; units are not validated.
type GestureSample struct {
	Acc  [3]float64
	Gyro [3]float64
}

// Kind implements Payload.
func (GestureSample) Kind() Kind { return KindGesture }

// CarStatus is the periodic state report sent by the car.
type CarStatus struct {
	Source     string // expected "car", not enforced
	LeftSpeed  int
	RightSpeed int
	IsMoving   bool
	Timestamp  int64 // producer clock, monotonic by convention only
}

// Kind implements Payload.
func (CarStatus) Kind() Kind { return KindCarStatus }
