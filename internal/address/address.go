// Package address parses and formats composite addresses of the form
// <archive-location>!<entry-path>.
package address

import (
	"fmt"
	"strings"

	"jardav/internal/errdefs"
)

// Separator splits the archive location from the entry path.
const Separator = "!"

// Scheme is the optional prefix editors put in front of composite addresses.
const Scheme = "jar:"

// Address names an archive and a location inside it. Entry is empty for the
// archive root and never starts with a slash.
type Address struct {
	Location string
	Entry    string
}

// Parse reads a composite address. Everything before the first "!" is the
// archive location; the remainder is the entry path with an optional leading
// "/". A "jar:" prefix is accepted and dropped, and "jar://" followed by a
// path refers to that local path.
func Parse(s string) (Address, error) {
	raw := s
	if strings.HasPrefix(s, Scheme) {
		s = strings.TrimPrefix(s, Scheme)
		if strings.HasPrefix(s, "///") {
			s = strings.TrimPrefix(s, "//")
		}
	}

	idx := strings.Index(s, Separator)
	if idx < 0 {
		return Address{}, fmt.Errorf("%w: %q has no %q separator", errdefs.ErrInvalidAddress, raw, Separator)
	}

	return New(s[:idx], s[idx+1:])
}

// New builds an address from its parts. The location must not be empty and
// must not contain the separator, otherwise the textual form would not
// round-trip.
func New(location, entry string) (Address, error) {
	if location == "" {
		return Address{}, fmt.Errorf("%w: empty archive location", errdefs.ErrInvalidAddress)
	}
	if strings.Contains(location, Separator) {
		return Address{}, fmt.Errorf("%w: archive location %q contains %q", errdefs.ErrInvalidAddress, location, Separator)
	}
	return Address{Location: location, Entry: strings.TrimLeft(entry, "/")}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsRoot reports whether the address names the archive root.
func (a Address) IsRoot() bool {
	return strings.TrimSuffix(a.Entry, "/") == ""
}

// Scope returns the entry path as a directory prefix with leading and
// trailing separators. The root scope is "/".
func (a Address) Scope() string {
	if a.IsRoot() {
		return "/"
	}
	return "/" + strings.TrimSuffix(a.Entry, "/") + "/"
}

// Join returns the address of the child called name.
func (a Address) Join(name string) Address {
	parent := strings.TrimSuffix(a.Entry, "/")
	if parent == "" {
		return Address{Location: a.Location, Entry: name}
	}
	return Address{Location: a.Location, Entry: parent + "/" + name}
}

// Name returns the last element of the entry path, or the empty string for
// the root.
func (a Address) Name() string {
	entry := strings.TrimSuffix(a.Entry, "/")
	if i := strings.LastIndex(entry, "/"); i >= 0 {
		return entry[i+1:]
	}
	return entry
}

// String formats the address as <location>!/<entry>, or <location>! for the
// root.
func (a Address) String() string {
	if a.Entry == "" {
		return a.Location + Separator
	}
	return a.Location + Separator + "/" + a.Entry
}
