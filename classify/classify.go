// Package classify assigns a payload kind to a raw line by looking for
// literal marker substrings.
//
// Producer lines do not share an envelope or a type tag, so the kind has to be
// known before a structural decode is attempted. Rules are evaluated in
// order and the first match wins.
package classify

import (
	"strings"

	"github.com/luhtfiimanal/serialhub/payload"
)

// Markers used by the default rule set.
const (
	CarStatusMarker       = `"source":"car"`
	CarStatusMarkerSpaced = `"source": "car"`
	AccMarker             = `"acc"`
	GyroMarker            = `"gyro"`
)

// Match reports whether a trimmed, non-empty line satisfies a rule.
type Match func(line string) bool

// Rule maps a predicate to the kind it selects.
type Rule struct {
	Name  string
	Kind  payload.Kind
	Match Match
}

// Classifier holds an ordered rule list. It is immutable after construction
// and safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// New returns a Classifier evaluating rules in the given order.
func New(rules ...Rule) *Classifier {
	return &Classifier{rules: append([]Rule(nil), rules...)}
}

// Default returns the classifier for the car and glove producers: the car
// status tag takes priority over the motion markers.
func Default() *Classifier {
	return New(DefaultRules()...)
}

// DefaultRules returns a fresh copy of the built-in rules so callers can
// extend them.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "car_status", Kind: payload.KindCarStatus, Match: ContainsAny(CarStatusMarker, CarStatusMarkerSpaced)},
		{Name: "gesture", Kind: payload.KindGesture, Match: ContainsAll(AccMarker, GyroMarker)},
	}
}

// Classify returns the kind of the first matching rule, or
// payload.KindUnclassified together with false.
func (c *Classifier) Classify(line string) (payload.Kind, bool) {
	for _, r := range c.rules {
		if r.Match(line) {
			return r.Kind, true
		}
	}
	return payload.KindUnclassified, false
}

// Rules returns a copy of the rule list in evaluation order.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// ContainsAll matches lines holding every marker.
func ContainsAll(markers ...string) Match {
	return func(line string) bool {
		for _, m := range markers {
			if !strings.Contains(line, m) {
				return false
			}
		}
		return len(markers) > 0
	}
}

// ContainsAny matches lines holding at least one marker.
func ContainsAny(markers ...string) Match {
	return func(line string) bool {
		for _, m := range markers {
			if strings.Contains(line, m) {
				return true
			}
		}
		return false
	}
}
