package session

import (
	"sort"
	"time"
)

// DefaultImportSegmentDuration is the estimated span given to the last
// imported segment, which has no successor to borrow an end time from.
const DefaultImportSegmentDuration = 5 * time.Second

// Importer ingests externally-sourced transcripts (exports from other tools,
// earlier recordings) into a segment store. External segments often carry
// only start times; the importer backfills each segment's end time from its
// successor's start time.
type Importer struct {
	// LastSegmentDuration is the estimated duration assigned to the final
	// segment. Defaults to DefaultImportSegmentDuration.
	LastSegmentDuration time.Duration
}

// Import sorts the segments by start time, backfills missing or inconsistent
// end times from each successor's start time, and returns them in a fresh
// store. This is the only place segment end times are ever rewritten; live
// pipeline segments are immutable once appended.
func (imp Importer) Import(segments []Segment) *Store {
	lastDuration := imp.LastSegmentDuration
	if lastDuration <= 0 {
		lastDuration = DefaultImportSegmentDuration
	}

	ordered := make([]Segment, len(segments))
	copy(ordered, segments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartTime < ordered[j].StartTime
	})

	store := NewStore()
	for i, seg := range ordered {
		if i+1 < len(ordered) {
			seg.EndTime = ordered[i+1].StartTime
		} else {
			seg.EndTime = seg.StartTime + lastDuration.Seconds()
		}
		if seg.EndTime < seg.StartTime {
			seg.EndTime = seg.StartTime
		}
		store.Append(seg)
	}

	return store
}
