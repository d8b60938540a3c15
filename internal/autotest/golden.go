package autotest

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/unisync/internal/protocol"
)

// transcript is the golden rendering of a run: every request next to the
// response it produced.
type transcript struct {
	Scenario string       `json:"scenario"`
	Steps    []transcribed `json:"steps"`
}

type transcribed struct {
	Request  protocol.Request `json:"request"`
	Response json.RawMessage  `json:"response"`
}

// AssertGolden compares the responses of a run of sc against the golden file
// testdata/golden/{sc.Name}.golden.
//
// To regenerate golden files, run the test with -update.
func AssertGolden(t *testing.T, sc *Scenario, res *Result) error {
	t.Helper()

	tr := transcript{Scenario: sc.Name, Steps: make([]transcribed, len(res.Responses))}
	for i, resp := range res.Responses {
		tr.Steps[i] = transcribed{Request: sc.Steps[i].Request, Response: resp}
	}
	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, append(data, '\n'))
	return nil
}
