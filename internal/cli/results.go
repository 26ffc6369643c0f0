package cli

import "github.com/hearthaudio/hearth/pkg/hearth"

// StatusResult holds the full controller snapshot.
type StatusResult struct {
	Snapshot hearth.StatusSnapshot
}

// SourceResult holds the current and available sources.
type SourceResult struct {
	Current   hearth.SourceType
	Available []hearth.SourceType
}

// AckResult reports a plain command acknowledgement.
type AckResult struct {
	Command string
	Result  bool
}

// VolumeResult holds a volume query or adjustment outcome. Volume is nil
// when the active source cannot report one.
type VolumeResult struct {
	Volume *int
}

// MenuResult holds the active source's contextual menu.
type MenuResult struct {
	Menu hearth.MenuOptions
}

// MenuActionOutcome reports a menu action execution.
type MenuActionOutcome struct {
	Result hearth.MenuActionResult
}

// RawResult holds arbitrary JSON data for output.
type RawResult struct {
	Data any
}
