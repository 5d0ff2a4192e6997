package archtype

// ProgressEvent represents a progress update during a transcode job.
type ProgressEvent struct {
	// Stage identifies the current phase of the job.
	Stage ProgressStage

	// Input is the identifier of the input being processed, if applicable.
	Input string

	// InputIndex is the position of the input in the job.
	InputIndex int

	// Entry is the entry currently being written, if applicable.
	Entry string

	// BytesWritten is the number of bytes written to the sink so far.
	BytesWritten uint64

	// EntriesDone is the number of entries written so far.
	EntriesDone int

	// InputsTotal is the number of inputs in the job.
	InputsTotal int
}

// ProgressStage identifies the current phase of a transcode job.
type ProgressStage uint8

// Progress stages, in the order a job passes through them.
const (
	// StageDetecting indicates an input's format is being identified.
	StageDetecting ProgressStage = iota

	// StageDecoding indicates an input's entries are being decoded.
	StageDecoding

	// StageWriting indicates an entry has been written to the output.
	StageWriting

	// StageFinishing indicates the end-of-archive marker is being written.
	StageFinishing
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageDetecting:
		return "detecting"
	case StageDecoding:
		return "decoding"
	case StageWriting:
		return "writing"
	case StageFinishing:
		return "finishing"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during a job.
// Calls happen on the job's goroutine, in order.
type ProgressFunc func(ProgressEvent)
