// Package mock provides a scriptable test double for the speech.Adapter
// interface.
//
// Configure the Adapter with fixed results or a script of per-call errors,
// then inspect the recorded calls:
//
//	a := &mock.Adapter{
//	    Cat:            speech.CategorySTT,
//	    TranscribeErrs: []error{errBoom, nil},
//	    STT:            &speech.STTResult{Text: "hello"},
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/parlancehq/parlance/pkg/speech"
)

// Adapter is a mock implementation of speech.Adapter. The zero value is a
// healthy TTS adapter that returns empty results.
type Adapter struct {
	mu sync.Mutex

	// Cat is the category reported by Capabilities.
	Cat speech.Category

	// STT is returned by Transcribe when no scripted error applies.
	STT *speech.STTResult

	// TTS is returned by Synthesize when no scripted error applies.
	TTS *speech.TTSResult

	// TranscribeErrs is consumed one entry per Transcribe call; a nil entry
	// means that call succeeds. After the script is exhausted, calls succeed.
	TranscribeErrs []error

	// SynthesizeErrs is the Synthesize counterpart of TranscribeErrs.
	SynthesizeErrs []error

	// HealthResult is returned by Health. The zero value probes as healthy.
	HealthResult speech.HealthStatus

	// Delay, when non-zero, makes Transcribe and Synthesize sleep before
	// returning (or return early on ctx cancellation).
	Delay time.Duration

	// TranscribeCalls and SynthesizeCalls record every invocation.
	TranscribeCalls []speech.STTRequest
	SynthesizeCalls []speech.TTSRequest

	healthCalls int
}

// Compile-time interface assertion.
var _ speech.Adapter = (*Adapter)(nil)

// Capabilities returns the configured category with no language or format
// restrictions.
func (a *Adapter) Capabilities() speech.Capabilities {
	return speech.Capabilities{Category: a.Cat}
}

// Transcribe records the call and returns the scripted outcome.
func (a *Adapter) Transcribe(ctx context.Context, req speech.STTRequest) (*speech.STTResult, error) {
	a.mu.Lock()
	a.TranscribeCalls = append(a.TranscribeCalls, req)
	err := a.nextErr(&a.TranscribeErrs)
	res := a.STT
	a.mu.Unlock()

	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &speech.STTResult{}
	}
	out := *res
	return &out, nil
}

// Synthesize records the call and returns the scripted outcome.
func (a *Adapter) Synthesize(ctx context.Context, req speech.TTSRequest) (*speech.TTSResult, error) {
	a.mu.Lock()
	a.SynthesizeCalls = append(a.SynthesizeCalls, req)
	err := a.nextErr(&a.SynthesizeErrs)
	res := a.TTS
	a.mu.Unlock()

	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &speech.TTSResult{}
	}
	out := *res
	return &out, nil
}

// Health returns HealthResult, with OK defaulted to true when the struct was
// never configured.
func (a *Adapter) Health(context.Context) speech.HealthStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthCalls++
	if a.HealthResult == (speech.HealthStatus{}) {
		return speech.HealthStatus{OK: true, Latency: time.Millisecond}
	}
	return a.HealthResult
}

// HealthCalls returns how many times Health was invoked. Thread-safe.
func (a *Adapter) HealthCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthCalls
}

// Calls returns the total number of Transcribe + Synthesize invocations.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.TranscribeCalls) + len(a.SynthesizeCalls)
}

// nextErr pops the next scripted error. Must be called with a.mu held.
func (a *Adapter) nextErr(script *[]error) error {
	if len(*script) == 0 {
		return nil
	}
	err := (*script)[0]
	*script = (*script)[1:]
	return err
}

// wait sleeps for Delay, honouring ctx.
func (a *Adapter) wait(ctx context.Context) error {
	if a.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(a.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
