package session

import (
	"github.com/orzoj-cluster/judged/internal/model"
	"github.com/orzoj-cluster/judged/internal/wire"
)

// readCaseResult reads the payload following REPORT_CASE: verdict, time in
// milliseconds, memory in kilobytes, then a message string, in that order
// (spec.md §3 leaves the exact layout to the implementation; see
// SPEC_FULL.md §3).
func readCaseResult(c *wire.Conn) (model.CaseResult, error) {
	verdict, err := c.ReadStr(0)
	if err != nil {
		return model.CaseResult{}, err
	}
	timeMS, err := c.ReadU32(0)
	if err != nil {
		return model.CaseResult{}, err
	}
	memKB, err := c.ReadU32(0)
	if err != nil {
		return model.CaseResult{}, err
	}
	msg, err := c.ReadStr(0)
	if err != nil {
		return model.CaseResult{}, err
	}
	return model.CaseResult{Verdict: verdict, TimeMS: timeMS, MemoryKB: memKB, Message: msg}, nil
}

// WriteCaseResult writes a REPORT_CASE payload in the layout readCaseResult
// expects. Exported for the test fake judge client.
func WriteCaseResult(c *wire.Conn, r model.CaseResult) error {
	if err := c.WriteStr(r.Verdict); err != nil {
		return err
	}
	if err := c.WriteU32(r.TimeMS); err != nil {
		return err
	}
	if err := c.WriteU32(r.MemoryKB); err != nil {
		return err
	}
	return c.WriteStr(r.Message)
}

// readProbResult reads the payload following REPORT_JUDGE_FINISH: verdict,
// score, then a message string.
func readProbResult(c *wire.Conn) (model.ProbResult, error) {
	verdict, err := c.ReadStr(0)
	if err != nil {
		return model.ProbResult{}, err
	}
	score, err := c.ReadU32(0)
	if err != nil {
		return model.ProbResult{}, err
	}
	msg, err := c.ReadStr(0)
	if err != nil {
		return model.ProbResult{}, err
	}
	return model.ProbResult{Verdict: verdict, Score: score, Message: msg}, nil
}

// WriteProbResult writes a REPORT_JUDGE_FINISH payload in the layout
// readProbResult expects. Exported for the test fake judge client.
func WriteProbResult(c *wire.Conn, r model.ProbResult) error {
	if err := c.WriteStr(r.Verdict); err != nil {
		return err
	}
	if err := c.WriteU32(r.Score); err != nil {
		return err
	}
	return c.WriteStr(r.Message)
}
