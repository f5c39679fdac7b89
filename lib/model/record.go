package model

// FileRecord is what a scanner reports for one observed file or directory.
// The local and remote scanners leave Size nil for directories; the active
// scanner sets it to the directory's recursive byte total.
type FileRecord struct {
	Name     string
	IsDir    bool
	FullPath string
	Size     *int64
	Children []FileRecord
}

// TransferState is the transfer engine's view of one job.
type TransferState int

const (
	TransferQueued TransferState = iota
	TransferRunning
)

// TransferStatus is one entry of the transfer engine's status() report.
type TransferStatus struct {
	Name  string
	State TransferState
	Speed *int64
	ETA   *float64 // seconds; kept as float64 to match "eta" being a rough estimate
}

// ExtractState is the extractor's view of one job.
type ExtractState int

const (
	ExtractExtracting ExtractState = iota
	ExtractDone
	ExtractFailed
)

// ExtractStatus is one entry of the extractor's pop_latest_statuses() report.
type ExtractStatus struct {
	Name     string
	State    ExtractState
	Progress *float64
}
