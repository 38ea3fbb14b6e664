package recorder

// Recorder stores captures as Record produces them
type Recorder interface {
	RecordCapture(c Capture) error
}
