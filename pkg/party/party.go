// Package party defines node identity types shared by every PrivCount
// role (Data Collector, Share Keeper, Tally Server).
package party

import "sort"

// ID is a node's logical identifier, stable across reconnects and IP
// changes (spec.md §4.5 "Check-ins": identity is a fingerprint of the
// node's long-term key, not its transport address).
type ID string

// Role identifies which of the three PrivCount node roles an ID plays
// in a given round.
type Role string

const (
	RoleDC Role = "dc"
	RoleSK Role = "sk"
	RoleTS Role = "ts"
)

// IDSlice is a sortable collection of IDs, used wherever a
// deterministic iteration order matters (e.g. hashing a party set into
// a session ID).
type IDSlice []ID

func (s IDSlice) Len() int           { return len(s) }
func (s IDSlice) Less(i, j int) bool { return s[i] < s[j] }
func (s IDSlice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// Sorted returns a sorted copy of s.
func (s IDSlice) Sorted() IDSlice {
	out := make(IDSlice, len(s))
	copy(out, s)
	sort.Sort(out)
	return out
}

// Contains reports whether id appears in s.
func (s IDSlice) Contains(id ID) bool {
	for _, x := range s {
		if x == id {
			return true
		}
	}
	return false
}
