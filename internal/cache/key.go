package cache

import (
	"strings"

	"github.com/ppiankov/ecowatch/internal/model"
)

// keySeparator replaces every whitespace run inside a normalized name
const keySeparator = "_"

// Key identifies one cache slot. Build it with NewKey so City and Country are
// always normalized; two locations that normalize the same share a slot.
type Key struct {
	Kind    Kind
	City    string
	Country string
}

// NewKey derives the key for a kind and location
func NewKey(kind Kind, loc model.Location) Key {
	return Key{
		Kind:    kind,
		City:    Normalize(loc.City),
		Country: Normalize(loc.Country),
	}
}

// String renders the key as kind:city:country
func (k Key) String() string {
	return string(k.Kind) + ":" + k.City + ":" + k.Country
}

// Normalize lower-cases s and collapses each run of whitespace into a single
// separator, dropping leading and trailing whitespace.
//
//	"New York"     -> "new_york"
//	"  new   york" -> "new_york"
//	"New York City" -> "new_york_city"
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), keySeparator)
}
