package autotest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/unisync/internal/protocol"
	"github.com/roach88/unisync/internal/session"
)

// SessionID names the sessions scenarios run in.
const SessionID = "autotest"

// Failure is one step whose response differs from the expected one.
type Failure struct {
	Step    int
	Request string
	Diff    string
}

func (f Failure) String() string {
	return fmt.Sprintf("step %d %s: %s", f.Step, f.Request, f.Diff)
}

// Result is the outcome of one scenario run.
type Result struct {
	Name string
	// Responses holds the encoded response of every step; "null" when the
	// step sent nothing.
	Responses []json.RawMessage
	Failures  []Failure
}

// Passed reports whether every step matched.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

// Error summarizes the failures, one per line.
func (r *Result) Error() string {
	lines := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		lines[i] = f.String()
	}
	return fmt.Sprintf("scenario %s failed:\n%s", r.Name, strings.Join(lines, "\n"))
}

// discard drops everything a scenario session sends outside its responses.
type discard struct{}

func (discard) Send(context.Context, protocol.Outbound) error { return nil }

// Run replays sc in a new session over doc. Mismatches are reported in the
// Result; an error means the scenario could not run at all.
func Run(ctx context.Context, doc *session.Document, sc *Scenario, opts session.Options) (*Result, error) {
	s := session.New(SessionID, doc, discard{}, opts)
	defer s.Close()

	if sc.Screen != "" {
		if _, ok := doc.Screen(sc.Screen); !ok {
			return nil, fmt.Errorf("scenario %s: unknown screen %q", sc.Name, sc.Screen)
		}
		if _, err := s.Handle(ctx, protocol.ScreenSwitch(sc.Screen)); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
	}

	res := &Result{Name: sc.Name}
	for i, st := range sc.Steps {
		out, err := s.Handle(ctx, st.Request)
		if err != nil {
			return nil, fmt.Errorf("scenario %s step %d: %w", sc.Name, i+1, err)
		}
		actual, err := encode(out)
		if err != nil {
			return nil, err
		}
		res.Responses = append(res.Responses, actual)

		expected, err := json.Marshal(st.Expect)
		if err != nil {
			return nil, fmt.Errorf("scenario %s step %d: encode expectation: %w", sc.Name, i+1, err)
		}
		equal, err := Equal(expected, actual)
		if err != nil {
			return nil, fmt.Errorf("scenario %s step %d: %w", sc.Name, i+1, err)
		}
		if equal {
			continue
		}
		diff, err := Diff(expected, actual)
		if err != nil {
			return nil, err
		}
		res.Failures = append(res.Failures, Failure{Step: i + 1, Request: st.Request.String(), Diff: diff})
	}
	return res, nil
}

func encode(out protocol.Outbound) (json.RawMessage, error) {
	if out == nil {
		return json.RawMessage("null"), nil
	}
	return protocol.Encode(out)
}

// Recorder captures the requests of a live session and their responses. Set
// Observe as the session's Observe option.
type Recorder struct {
	mu sync.Mutex
	sc Scenario
}

// NewRecorder starts a scenario called name on screen.
func NewRecorder(name, screen string) *Recorder {
	return &Recorder{sc: Scenario{Name: name, Screen: screen}}
}

// Observe records one processed request. Screen switches are recorded like
// any other request.
func (r *Recorder) Observe(req protocol.Request, out protocol.Outbound) {
	data, err := encode(out)
	if err != nil {
		return
	}
	var expect any
	if err := json.Unmarshal(data, &expect); err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sc.Steps = append(r.sc.Steps, Step{Request: req, Expect: expect})
}

// Scenario returns a copy of the recorded scenario.
func (r *Recorder) Scenario() *Scenario {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc := r.sc
	sc.Steps = append([]Step(nil), r.sc.Steps...)
	return &sc
}
