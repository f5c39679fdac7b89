// Package model holds the reconciled, authoritative view of every file the
// controller knows about: one file or directory per name, its derived
// state, and the listener fan-out that lets clients observe changes to it
// without polling.
package model

import "time"

// State is the derived lifecycle state of a ModelFile. Clients never set it
// directly — only ModelBuilder assigns it, from observations.
type State int

const (
	StateDefault State = iota
	StateQueued
	StateDownloading
	StateDownloaded
	StateExtracting
	StateExtracted
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateDefault:
		return "Default"
	case StateQueued:
		return "Queued"
	case StateDownloading:
		return "Downloading"
	case StateDownloaded:
		return "Downloaded"
	case StateExtracting:
		return "Extracting"
	case StateExtracted:
		return "Extracted"
	case StateDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// ModelFile is the reconciled view of one file or directory. Optional
// integer/duration fields are nil when that attribute was never observed on
// that side (remote, local, or in-flight).
type ModelFile struct {
	Name     string
	IsDir    bool
	State    State
	FullPath string

	RemoteSize *int64
	LocalSize  *int64

	DownloadingSpeed *int64
	ETA              *time.Duration
	ExtractProgress  *float64

	Children map[string]*ModelFile
}

// Clone returns a deep copy, safe to hand to a caller outside the model
// lock.
func (f *ModelFile) Clone() *ModelFile {
	if f == nil {
		return nil
	}
	out := *f
	out.RemoteSize = clonePtr(f.RemoteSize)
	out.LocalSize = clonePtr(f.LocalSize)
	out.DownloadingSpeed = clonePtr(f.DownloadingSpeed)
	out.ETA = clonePtr(f.ETA)
	out.ExtractProgress = clonePtr(f.ExtractProgress)
	if f.Children != nil {
		out.Children = make(map[string]*ModelFile, len(f.Children))
		for k, v := range f.Children {
			out.Children[k] = v.Clone()
		}
	}
	return &out
}

// Equal reports whether two ModelFiles have identical observable
// attributes, recursing into directory children. Used by the diff engine to
// decide ADDED/REMOVED/UPDATED.
func (f *ModelFile) Equal(o *ModelFile) bool {
	if f == nil || o == nil {
		return f == o
	}
	if f.Name != o.Name || f.IsDir != o.IsDir || f.State != o.State || f.FullPath != o.FullPath {
		return false
	}
	if !ptrEqual(f.RemoteSize, o.RemoteSize) || !ptrEqual(f.LocalSize, o.LocalSize) {
		return false
	}
	if !ptrEqual(f.DownloadingSpeed, o.DownloadingSpeed) {
		return false
	}
	if !durationPtrEqual(f.ETA, o.ETA) || !float64PtrEqual(f.ExtractProgress, o.ExtractProgress) {
		return false
	}
	if len(f.Children) != len(o.Children) {
		return false
	}
	for name, child := range f.Children {
		other, ok := o.Children[name]
		if !ok || !child.Equal(other) {
			return false
		}
	}
	return true
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func durationPtrEqual(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func float64PtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Int64Ptr is a small convenience for constructing optional sizes.
func Int64Ptr(v int64) *int64 { return &v }

// Float64Ptr is a small convenience for constructing optional progress values.
func Float64Ptr(v float64) *float64 { return &v }

// DurationPtr is a small convenience for constructing optional ETAs.
func DurationPtr(v time.Duration) *time.Duration { return &v }
