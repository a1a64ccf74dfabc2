package pyharbor

// Progress is a single notification pushed to a ProgressSink: a message plus
// an optional phase label and numerator/denominator pair. Denominator is -1
// when the total is unknown.
type Progress struct {
	Message     string
	Phase       string
	Numerator   int64
	Denominator int64
}

// ProgressSink receives progress notifications from provisioning, package
// operations and the orchestrator. Sinks are called from the operation's own
// goroutine with no backpressure applied; a sink must not block.
type ProgressSink func(Progress)

// notify forwards p to sink if one is set.
func notify(sink ProgressSink, p Progress) {
	if sink != nil {
		sink(p)
	}
}
