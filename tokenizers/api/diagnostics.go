package api

import (
	"slices"
	"sync"

	"k8s.io/klog/v2"
)

// Severity of a Diagnostic.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
)

// Diagnostic codes emitted by the tokenizers.
const (
	// DiagEOSAlreadyPresent is emitted when a sequence handed to the assembler already ends with the
	// end-of-sequence marker, and the marker is not appended again.
	DiagEOSAlreadyPresent = "eos_already_present"
)

// Diagnostic is a structured, non-fatal event reported by a tokenizer.
type Diagnostic struct {
	Severity Severity
	Code     string
	Message  string
}

// Diagnostics receives the diagnostics emitted by the tokenizers.
// Implementations must be safe for concurrent use.
type Diagnostics interface {
	Emit(d Diagnostic)
}

// KlogDiagnostics writes diagnostics to klog: warnings with klog.Warningf, and
// info with klog.V(1).Infof. It is the default sink.
type KlogDiagnostics struct{}

// Emit implements Diagnostics.
func (KlogDiagnostics) Emit(d Diagnostic) {
	switch d.Severity {
	case SeverityWarning:
		klog.Warningf("%s: %s", d.Code, d.Message)
	default:
		klog.V(1).Infof("%s: %s", d.Code, d.Message)
	}
}

// RecordingDiagnostics keeps every emitted diagnostic in memory. It's used in tests.
type RecordingDiagnostics struct {
	mu     sync.Mutex
	events []Diagnostic
}

// Emit implements Diagnostics.
func (r *RecordingDiagnostics) Emit(d Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, d)
}

// Events returns a copy of the diagnostics emitted so far.
func (r *RecordingDiagnostics) Events() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Count returns how many diagnostics with the given code were emitted.
func (r *RecordingDiagnostics) Count(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, e := range r.events {
		if e.Code == code {
			n++
		}
	}
	return n
}

// Reset discards the recorded diagnostics.
func (r *RecordingDiagnostics) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
