// Package policy provides ports.ExclusionPolicy implementations. Excluded
// visitors always see the control and are never counted.
package policy

import (
	"strings"

	"github.com/emiliopalmerini/msplit/internal/ports"
)

// None excludes nobody.
type None struct{}

func (None) IsExcluded(ports.Visitor) bool { return false }

// IgnoredAddresses excludes visitors whose address is in the set.
type IgnoredAddresses struct {
	addrs map[string]struct{}
}

// NewIgnoredAddresses builds the set. Blank entries are skipped and entries
// are trimmed, so a raw comma-separated list can be passed after splitting.
func NewIgnoredAddresses(addrs ...string) *IgnoredAddresses {
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			set[a] = struct{}{}
		}
	}
	return &IgnoredAddresses{addrs: set}
}

func (p *IgnoredAddresses) IsExcluded(v ports.Visitor) bool {
	if v.Addr == "" {
		return false
	}
	_, ok := p.addrs[v.Addr]
	return ok
}

// Len returns the number of ignored addresses.
func (p *IgnoredAddresses) Len() int {
	return len(p.addrs)
}

// Func adapts a plain function, e.g. a bot detector supplied by the host.
type Func func(v ports.Visitor) bool

func (f Func) IsExcluded(v ports.Visitor) bool {
	if f == nil {
		return false
	}
	return f(v)
}

// AnyOf excludes a visitor when any member policy does.
type AnyOf []ports.ExclusionPolicy

func (a AnyOf) IsExcluded(v ports.Visitor) bool {
	for _, p := range a {
		if p != nil && p.IsExcluded(v) {
			return true
		}
	}
	return false
}
