package model

import "time"

// Builder is the pure reducer described by the reconciliation loop: each
// Build call folds together the last-known value of six sticky inputs
// (remote files, local files, active files, transfer statuses, extract
// statuses, and the two persisted name sets) into a brand new Model. A
// missing observation on a given call never erases a previous one — only a
// later Set call replaces it. This is what keeps the model from flickering
// when one scanner lags behind the others.
type Builder struct {
	remoteFiles      []FileRecord
	localFiles       []FileRecord
	activeFiles      []FileRecord
	transferStatuses []TransferStatus
	extractStatuses  []ExtractStatus
	downloadedNames  map[string]struct{}
	extractedNames   map[string]struct{}

	// autoDownloaded remembers every name this Builder has itself seen
	// transition from an in-flight transfer to local presence. It exists to
	// break the chicken-and-egg between ModelBuilder and the controller: the
	// controller only learns a name reached DOWNLOADED by reading it out of
	// a Model this Builder already produced, so the first DOWNLOADED tick
	// can't depend solely on the persisted downloadedNames hint.
	autoDownloaded map[string]struct{}

	// wasInFlight holds the names that were QUEUED or DOWNLOADING as of the
	// previous Build call, so the current call can recognize the transition
	// out of that state.
	wasInFlight map[string]struct{}
}

// NewBuilder returns a Builder with all sticky inputs empty.
func NewBuilder() *Builder {
	return &Builder{
		downloadedNames: map[string]struct{}{},
		extractedNames:  map[string]struct{}{},
		autoDownloaded:  map[string]struct{}{},
		wasInFlight:     map[string]struct{}{},
	}
}

func (b *Builder) SetRemoteFiles(files []FileRecord)          { b.remoteFiles = files }
func (b *Builder) SetLocalFiles(files []FileRecord)           { b.localFiles = files }
func (b *Builder) SetActiveFiles(files []FileRecord)          { b.activeFiles = files }
func (b *Builder) SetTransferStatuses(s []TransferStatus)     { b.transferStatuses = s }
func (b *Builder) SetExtractStatuses(s []ExtractStatus)       { b.extractStatuses = s }
func (b *Builder) SetDownloadedNames(names map[string]struct{}) { b.downloadedNames = names }
func (b *Builder) SetExtractedNames(names map[string]struct{}) { b.extractedNames = names }

// Build produces a new Model from the current sticky inputs. Calling Build
// twice without changing any input yields equal Models (P6).
func (b *Builder) Build() *Model {
	remoteByName := indexRecords(b.remoteFiles)
	localByName := indexRecords(b.localFiles)
	activeByName := indexRecords(b.activeFiles)
	transferByName := indexTransfer(b.transferStatuses)
	extractByName := indexExtract(b.extractStatuses)

	names := map[string]struct{}{}
	for name := range remoteByName {
		names[name] = struct{}{}
	}
	for name := range localByName {
		names[name] = struct{}{}
	}
	for name := range transferByName {
		names[name] = struct{}{}
	}
	for name := range extractByName {
		names[name] = struct{}{}
	}
	// A name that dropped out of every live observation stream but was
	// previously downloaded or extracted stays in the model (as DELETED,
	// below) instead of vanishing. It stays for as long as it is a member of
	// either persisted set; remote sightings do not remove it.
	for name := range b.downloadedNames {
		names[name] = struct{}{}
	}
	for name := range b.extractedNames {
		names[name] = struct{}{}
	}

	m := New()
	nowInFlight := map[string]struct{}{}
	for name := range names {
		remote, hasRemote := remoteByName[name]
		local, hasLocal := localByName[name]
		active, hasActive := activeByName[name]
		transfer, hasTransfer := transferByName[name]
		extract, hasExtract := extractByName[name]

		_, isDownloaded := b.downloadedNames[name]
		_, isExtracted := b.extractedNames[name]

		if hasTransfer && (transfer.State == TransferRunning || transfer.State == TransferQueued) {
			nowInFlight[name] = struct{}{}
		}
		if _, wasInFlight := b.wasInFlight[name]; wasInFlight && hasLocal && !hasTransfer {
			b.autoDownloaded[name] = struct{}{}
		}
		if _, auto := b.autoDownloaded[name]; auto {
			isDownloaded = true
		}

		state := mergeState(hasRemote, hasLocal, transfer, hasTransfer, extract, hasExtract, isExtracted, isDownloaded)

		isDir := remote.IsDir || local.IsDir
		fullPath := remote.FullPath
		if fullPath == "" {
			fullPath = local.FullPath
		}

		f := &ModelFile{
			Name:     name,
			IsDir:    isDir,
			State:    state,
			FullPath: fullPath,
		}
		if hasRemote {
			f.RemoteSize = remote.Size
		}
		switch {
		case hasActive && state == StateDownloading && active.Size != nil:
			f.LocalSize = active.Size
		case hasLocal:
			f.LocalSize = local.Size
		}
		if hasTransfer {
			if transfer.Speed != nil {
				f.DownloadingSpeed = transfer.Speed
			}
			if transfer.ETA != nil {
				d := time.Duration(*transfer.ETA * float64(time.Second))
				f.ETA = &d
			}
		}
		if hasExtract && extract.Progress != nil {
			f.ExtractProgress = extract.Progress
		}
		if isDir && (len(remote.Children) > 0 || len(local.Children) > 0) {
			f.Children = mergeChildren(remote.Children, local.Children, everRemoteSet(remote.Children))
		}

		_ = m.AddFile(f) // names is built from deduped sets; add can never collide
	}
	b.wasInFlight = nowInFlight
	return m
}

// mergeChildren recursively merges the remote and local children of a
// directory, filling in sizes from each side. Every child gets
// StateDefault: everRemote is built from the current remote children, so a
// child seen locally but not remotely is never in it and is not marked
// DELETED. Children never carry transfer/extract status of their own —
// those are reported per download job, which is always the top-level name.
func mergeChildren(remoteChildren, localChildren []FileRecord, everRemote map[string]struct{}) map[string]*ModelFile {
	remoteByName := indexRecords(remoteChildren)
	localByName := indexRecords(localChildren)
	out := map[string]*ModelFile{}
	for name := range remoteByName {
		out[name] = nil
	}
	for name := range localByName {
		out[name] = nil
	}
	for name := range out {
		remote, hasRemote := remoteByName[name]
		local, hasLocal := localByName[name]
		_, wasRemote := everRemote[name]

		state := childState(hasRemote, hasLocal, wasRemote)

		isDir := remote.IsDir || local.IsDir
		fullPath := remote.FullPath
		if fullPath == "" {
			fullPath = local.FullPath
		}
		f := &ModelFile{Name: name, IsDir: isDir, State: state, FullPath: fullPath}
		if hasRemote {
			f.RemoteSize = remote.Size
		}
		if hasLocal {
			f.LocalSize = local.Size
		}
		if isDir && (len(remote.Children) > 0 || len(local.Children) > 0) {
			f.Children = mergeChildren(remote.Children, local.Children, everRemoteChildSet(remote.Children))
		}
		out[name] = f
	}
	return out
}

func childState(hasRemote, hasLocal, everRemote bool) State {
	switch {
	case hasLocal && !hasRemote:
		if everRemote {
			return StateDeleted
		}
		return StateDefault
	default:
		return StateDefault
	}
}

func everRemoteSet(children []FileRecord) map[string]struct{} {
	out := map[string]struct{}{}
	for _, c := range children {
		out[c.Name] = struct{}{}
	}
	return out
}

func everRemoteChildSet(children []FileRecord) map[string]struct{} {
	return everRemoteSet(children)
}

// mergeState implements the priority-ordered merge rule from the
// reconciliation spec: transfer engine beats extractor beats local-presence
// heuristics beats remote-only default. DELETED means "previously downloaded
// or extracted, and local presence has since disappeared" — it says nothing
// about remote presence, which a local-only delete leaves untouched.
func mergeState(
	hasRemote, hasLocal bool,
	transfer TransferStatus, hasTransfer bool,
	extract ExtractStatus, hasExtract bool,
	isExtracted, isDownloaded bool,
) State {
	switch {
	case hasTransfer && transfer.State == TransferRunning:
		return StateDownloading
	case hasTransfer && transfer.State == TransferQueued:
		return StateQueued
	case hasExtract && extract.State == ExtractExtracting:
		return StateExtracting
	case hasLocal && isExtracted:
		return StateExtracted
	case hasLocal && isDownloaded:
		return StateDownloaded
	case !hasLocal && (isDownloaded || isExtracted):
		return StateDeleted
	case hasRemote:
		return StateDefault
	default:
		return StateDefault
	}
}

func indexRecords(records []FileRecord) map[string]FileRecord {
	out := make(map[string]FileRecord, len(records))
	for _, r := range records {
		out[r.Name] = r
	}
	return out
}

func indexTransfer(statuses []TransferStatus) map[string]TransferStatus {
	out := make(map[string]TransferStatus, len(statuses))
	for _, s := range statuses {
		out[s.Name] = s
	}
	return out
}

func indexExtract(statuses []ExtractStatus) map[string]ExtractStatus {
	out := make(map[string]ExtractStatus, len(statuses))
	for _, s := range statuses {
		out[s.Name] = s
	}
	return out
}
