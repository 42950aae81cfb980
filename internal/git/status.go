package git

import (
	"context"
	"strings"
)

// Status groups working-tree paths by state.
type Status struct {
	Conflicted []string
	NotAdded   []string // untracked
	Created    []string // added to the index
	Deleted    []string
	Modified   []string
	Renamed    []string // destination paths
}

// HasConflicts reports whether any path is unmerged.
func (s *Status) HasConflicts() bool {
	return len(s.Conflicted) > 0
}

// Pending returns every changed path that a commit would pick up.
func (s *Status) Pending() []string {
	var paths []string
	for _, group := range [][]string{s.NotAdded, s.Created, s.Deleted, s.Modified, s.Renamed} {
		paths = append(paths, group...)
	}
	return paths
}

// IsClean reports whether nothing is pending and nothing conflicts.
func (s *Status) IsClean() bool {
	return !s.HasConflicts() && len(s.Pending()) == 0
}

var unmerged = map[string]bool{
	"DD": true, "AU": true, "UD": true, "UA": true, "DU": true, "AA": true, "UU": true,
}

// Status reads `git status --porcelain -z`.
func (r *Repo) Status(ctx context.Context) (*Status, error) {
	out, err := r.raw(ctx, "status", "status", "--porcelain", "-z", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	return parseStatus(out), nil
}

func parseStatus(out string) *Status {
	st := &Status{}
	entries := strings.Split(out, "\x00")
	for i := 0; i < len(entries); i++ {
		entry := entries[i]
		if len(entry) < 4 {
			continue
		}
		xy, path := entry[:2], entry[3:]
		x, y := xy[0], xy[1]
		// Renames and copies are followed by the original path.
		if x == 'R' || x == 'C' {
			i++
		}
		switch {
		case unmerged[xy]:
			st.Conflicted = append(st.Conflicted, path)
		case xy == "??":
			st.NotAdded = append(st.NotAdded, path)
		case x == 'R' || y == 'R':
			st.Renamed = append(st.Renamed, path)
		case x == 'A' || x == 'C' || y == 'A':
			st.Created = append(st.Created, path)
		case x == 'D' || y == 'D':
			st.Deleted = append(st.Deleted, path)
		case x == 'M' || y == 'M' || x == 'T' || y == 'T':
			st.Modified = append(st.Modified, path)
		}
	}
	return st
}
