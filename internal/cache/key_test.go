package cache

import (
	"testing"

	"github.com/ppiankov/ecowatch/internal/model"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"New York", "new_york"},
		{"new york", "new_york"},
		{"New  York", "new_york"},
		{"  new   york  ", "new_york"},
		{"New\tYork\n", "new_york"},
		{"New York City", "new_york_city"},
		{"São Paulo", "são_paulo"},
		{"", ""},
		{"   ", ""},
		{"US", "us"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewKey(t *testing.T) {
	a := NewKey(KindWeather, model.Location{City: "New York", Country: "US"})
	b := NewKey(KindWeather, model.Location{City: "new   york", Country: "us"})
	if a != b {
		t.Errorf("expected equal keys, got %v and %v", a, b)
	}

	c := NewKey(KindNews, model.Location{City: "New York", Country: "US"})
	if a == c {
		t.Error("different kinds must produce different keys")
	}

	d := NewKey(KindWeather, model.Location{City: "New York", Country: ""})
	if a == d {
		t.Error("missing country must not match a set country")
	}
}

func TestKey_String(t *testing.T) {
	k := NewKey(KindCriticalIssues, model.Location{City: "Rio de Janeiro", Country: "BR"})
	if got := k.String(); got != "critical_issues:rio_de_janeiro:br" {
		t.Errorf("unexpected key string: %s", got)
	}
}

func TestKey_NoSeparatorCollision(t *testing.T) {
	// City and country are separate fields, so a colon in a name cannot shift
	// text from one field into the other.
	a := NewKey(KindWeather, model.Location{City: "a:b", Country: "c"})
	b := NewKey(KindWeather, model.Location{City: "a", Country: "b:c"})
	if a == b {
		t.Error("structured keys must not collide")
	}
}
