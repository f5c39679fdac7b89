package model

import "sort"

// ChangeKind distinguishes the three shapes a Diff record can take.
type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
	Updated
)

// Diff is one record of the comparison between two Models. Old is nil for
// Added, New is nil for Removed; both are set for Updated.
type Diff struct {
	Change ChangeKind
	Old    *ModelFile
	New    *ModelFile
}

// DiffModels compares old and new and returns every ADDED/REMOVED/UPDATED
// record, sorted by name for deterministic listener delivery and testing.
func DiffModels(old, new *Model) []Diff {
	names := map[string]struct{}{}
	for _, n := range old.GetFileNames() {
		names[n] = struct{}{}
	}
	for _, n := range new.GetFileNames() {
		names[n] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	diffs := make([]Diff, 0, len(sorted))
	for _, name := range sorted {
		oldFile, hadOld := old.files[name]
		newFile, hasNew := new.files[name]
		switch {
		case !hadOld && hasNew:
			diffs = append(diffs, Diff{Change: Added, New: newFile})
		case hadOld && !hasNew:
			diffs = append(diffs, Diff{Change: Removed, Old: oldFile})
		case hadOld && hasNew && !oldFile.Equal(newFile):
			diffs = append(diffs, Diff{Change: Updated, Old: oldFile, New: newFile})
		}
	}
	return diffs
}
