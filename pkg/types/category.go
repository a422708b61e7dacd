// Package types provides the event model shared by every conversion stage.
package types

import (
	"fmt"
	"strings"
)

// Category identifies one class of profiling activity. The set is closed:
// every consumer switches over these constants.
type Category uint8

const (
	CategoryKernel Category = iota
	CategoryCUDAAPI
	CategoryNVTX
	CategoryNVTXKernel
	CategoryOSRT
	CategorySched
	CategoryComposite
	// CategoryFlow holds API-to-kernel flow arrows. It is derived and is
	// enabled by ConversionOptions.WithFlows rather than requested by name.
	CategoryFlow

	numCategories
)

var categoryNames = [numCategories]string{
	CategoryKernel:     "kernel",
	CategoryCUDAAPI:    "cuda-api",
	CategoryNVTX:       "nvtx",
	CategoryNVTXKernel: "nvtx-kernel",
	CategoryOSRT:       "osrt",
	CategorySched:      "sched",
	CategoryComposite:  "composite",
	CategoryFlow:       "cuda-flow",
}

// String returns the wire name of the category.
func (c Category) String() string {
	if c < numCategories {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool {
	return c < numCategories
}

// Derived reports whether events of this category are produced by the
// correlator instead of being read from a table.
func (c Category) Derived() bool {
	switch c {
	case CategoryNVTXKernel, CategoryFlow:
		return true
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %d", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	if string(b) == categoryNames[CategoryFlow] {
		*c = CategoryFlow
		return nil
	}
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory parses a requestable category name. "cuda-flow" is not
// requestable and is rejected.
func ParseCategory(s string) (Category, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, c := range AllCategories() {
		if categoryNames[c] == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown activity type %q (must be one of %s)", s, FullCategorySet())
}

// AllCategories returns the seven requestable categories in canonical order.
func AllCategories() []Category {
	return []Category{
		CategoryKernel,
		CategoryCUDAAPI,
		CategoryNVTX,
		CategoryNVTXKernel,
		CategoryOSRT,
		CategorySched,
		CategoryComposite,
	}
}

// CategorySet is a bitmask of categories. The zero value is empty.
type CategorySet uint16

// NewCategorySet builds a set from the given categories.
func NewCategorySet(cats ...Category) CategorySet {
	var s CategorySet
	for _, c := range cats {
		s = s.Add(c)
	}
	return s
}

// FullCategorySet returns the set of every requestable category.
func FullCategorySet() CategorySet {
	return NewCategorySet(AllCategories()...)
}

// Add returns a copy of s with c included.
func (s CategorySet) Add(c Category) CategorySet {
	if !c.Valid() {
		return s
	}
	return s | 1<<c
}

// Has reports whether c is in the set.
func (s CategorySet) Has(c Category) bool {
	return c.Valid() && s&(1<<c) != 0
}

// Empty reports whether the set contains nothing.
func (s CategorySet) Empty() bool {
	return s == 0
}

// Slice returns the members in canonical order.
func (s CategorySet) Slice() []Category {
	var out []Category
	for c := Category(0); c < numCategories; c++ {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s CategorySet) String() string {
	cats := s.Slice()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.String()
	}
	return "{" + strings.Join(names, ", ") + "}"
}
