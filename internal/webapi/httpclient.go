package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/orzoj-cluster/judged/internal/model"
	"github.com/orzoj-cluster/judged/internal/webauth"
)

// HTTPClient implements Client against a REST API exposed by the web
// frontend. Every call is a single JSON request/response over plain
// net/http, bearer-authenticated with a token from an *webauth.Issuer —
// the frontend is a conventional HTTP service, unlike the teacher's
// websocket-based sibling services, so this follows net/http idiom instead
// of gorilla/websocket.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
	issuer  *webauth.Issuer
}

// NewHTTPClient returns an HTTPClient targeting baseURL (e.g.
// "https://judge.example.com/api"), authenticating with tokens from issuer.
func NewHTTPClient(baseURL string, timeout time.Duration, issuer *webauth.Issuer) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
		issuer:  issuer,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return wrapErr(path, err)
		}
		reqBody = bytes.NewReader(b)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return wrapErr(path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.issuer != nil {
		tok, err := c.issuer.Token()
		if err != nil {
			return wrapErr(path, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return wrapErr(path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return wrapErr(path, fmt.Errorf("status %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return wrapErr(path, err)
	}
	return nil
}

type taskDTO struct {
	Problem        string `json:"problem"`
	Language       string `json:"language"`
	Source         string `json:"source"`
	InputFilename  string `json:"input_filename,omitempty"`
	OutputFilename string `json:"output_filename,omitempty"`
}

func (c *HTTPClient) FetchTask(ctx context.Context) (model.Task, bool, error) {
	var resp struct {
		Task *taskDTO `json:"task"`
	}
	if err := c.do(ctx, http.MethodGet, "/tasks/next", nil, &resp); err != nil {
		return model.Task{}, false, err
	}
	if resp.Task == nil {
		return model.Task{}, false, nil
	}
	return model.Task{
		Problem:        resp.Task.Problem,
		Language:       resp.Task.Language,
		Source:         resp.Task.Source,
		InputFilename:  resp.Task.InputFilename,
		OutputFilename: resp.Task.OutputFilename,
	}, true, nil
}

func (c *HTTPClient) ReportNoJudge(ctx context.Context, task model.Task) error {
	return c.report(ctx, "no_judge", task, nil)
}

func (c *HTTPClient) ReportNoData(ctx context.Context, task model.Task) error {
	return c.report(ctx, "no_data", task, nil)
}

func (c *HTTPClient) ReportError(ctx context.Context, task model.Task, reason string) error {
	return c.report(ctx, "error", task, map[string]string{"reason": reason})
}

func (c *HTTPClient) ReportCompiling(ctx context.Context, task model.Task, judgeID string) error {
	return c.report(ctx, "compiling", task, map[string]string{"judge_id": judgeID})
}

func (c *HTTPClient) ReportCompileSuccess(ctx context.Context, task model.Task) error {
	return c.report(ctx, "compile_success", task, nil)
}

func (c *HTTPClient) ReportCompileFailure(ctx context.Context, task model.Task, reason string) error {
	return c.report(ctx, "compile_failure", task, map[string]string{"reason": reason})
}

func (c *HTTPClient) ReportCaseResult(ctx context.Context, task model.Task, result model.CaseResult) error {
	return c.report(ctx, "case_result", task, map[string]any{
		"verdict":   result.Verdict,
		"time_ms":   result.TimeMS,
		"memory_kb": result.MemoryKB,
		"message":   result.Message,
	})
}

func (c *HTTPClient) ReportProbResult(ctx context.Context, task model.Task, result model.ProbResult) error {
	return c.report(ctx, "prob_result", task, map[string]any{
		"verdict": result.Verdict,
		"score":   result.Score,
		"message": result.Message,
	})
}

func (c *HTTPClient) report(ctx context.Context, kind string, task model.Task, extra map[string]any) error {
	payload := map[string]any{
		"kind":     kind,
		"problem":  task.Problem,
		"language": task.Language,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return c.do(ctx, http.MethodPost, "/tasks/report", payload, nil)
}

func (c *HTTPClient) GetQueryList(ctx context.Context) ([]string, error) {
	var resp struct {
		Queries []string `json:"queries"`
	}
	if err := c.do(ctx, http.MethodGet, "/judges/query-list", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Queries, nil
}

func (c *HTTPClient) RegisterNewJudge(ctx context.Context, judge *model.Judge, answers map[string]string) error {
	langs := make([]string, 0, len(judge.LanguagesSupported))
	for l := range judge.LanguagesSupported {
		langs = append(langs, l)
	}
	payload := map[string]any{
		"id":        judge.ID,
		"languages": langs,
		"answers":   answers,
	}
	return c.do(ctx, http.MethodPost, "/judges/register", payload, nil)
}

func (c *HTTPClient) RemoveJudge(ctx context.Context, judge *model.Judge) error {
	return c.do(ctx, http.MethodPost, "/judges/remove", map[string]string{"id": judge.ID}, nil)
}
