package retar

import "github.com/meigma/retar/internal/archtype"

// Re-export progress types from the internal type package.
type (
	// ProgressEvent represents a progress update during a transcode job.
	ProgressEvent = archtype.ProgressEvent

	// ProgressStage identifies the current phase of a job.
	ProgressStage = archtype.ProgressStage

	// ProgressFunc receives progress updates. Calls happen on the job's
	// goroutine, in order.
	ProgressFunc = archtype.ProgressFunc
)

// Re-export progress stage constants.
const (
	// StageDetecting indicates an input's format is being identified.
	StageDetecting = archtype.StageDetecting

	// StageDecoding indicates an input's entries are being decoded.
	StageDecoding = archtype.StageDecoding

	// StageWriting indicates an entry has been written to the output.
	StageWriting = archtype.StageWriting

	// StageFinishing indicates the end-of-archive marker is being written.
	StageFinishing = archtype.StageFinishing
)
