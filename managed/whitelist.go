package managed

import "sort"

// Whitelist is a set of fully qualified type names an assembly may
// reference.
type Whitelist map[string]struct{}

// NewWhitelist returns a whitelist of the given names.
func NewWhitelist(names ...string) Whitelist {
	w := make(Whitelist, len(names))
	for _, n := range names {
		w[n] = struct{}{}
	}
	return w
}

func (w Whitelist) Add(name string) { w[name] = struct{}{} }

func (w Whitelist) Contains(name string) bool {
	_, ok := w[name]
	return ok
}

// Names returns the sorted entries.
func (w Whitelist) Names() []string {
	out := make([]string, 0, len(w))
	for n := range w {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
