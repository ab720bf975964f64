// Package ghclient is the GitHub REST client used to list workflows, runs
// and jobs, fetch workflow files and locate log archives.
package ghclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/jenian/iswith/internal/model"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// MaxPerPage is the largest page size the API accepts
const MaxPerPage = 100

// Client wraps go-github with the error taxonomy of this module
type Client struct {
	gh  *github.Client
	log zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for the API at baseURL. A nil token source means
// unauthenticated requests.
func New(ctx context.Context, ts oauth2.TokenSource, baseURL string, opts ...Option) (*Client, error) {
	var httpClient *http.Client
	if ts != nil {
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return NewWithHTTPClient(httpClient, baseURL, opts...)
}

// NewWithHTTPClient creates a client using httpClient for every request
func NewWithHTTPClient(httpClient *http.Client, baseURL string, opts ...Option) (*Client, error) {
	gh := github.NewClient(httpClient)
	if baseURL != "" {
		u, err := ParseBaseURL(baseURL)
		if err != nil {
			return nil, err
		}
		gh.BaseURL = u
	}
	c := &Client{gh: gh, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ParseBaseURL parses an API root, adding the trailing slash go-github requires
func ParseBaseURL(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API URL %q: scheme and host required", raw)
	}
	return u, nil
}

// ListWorkflows returns every workflow registered in the repository
func (c *Client) ListWorkflows(ctx context.Context, owner, repo string) ([]model.Workflow, error) {
	opts := &github.ListOptions{PerPage: MaxPerPage}
	var all []model.Workflow
	for {
		page, resp, err := c.gh.Actions.ListWorkflows(ctx, owner, repo, opts)
		if err != nil {
			return nil, classify(err, fmt.Sprintf("listing workflows of %s/%s", owner, repo))
		}
		for _, w := range page.Workflows {
			all = append(all, model.Workflow{
				ID:    w.GetID(),
				Name:  w.GetName(),
				Path:  w.GetPath(),
				State: w.GetState(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// ListRuns returns one page of runs of a workflow, most recent first
func (c *Client) ListRuns(ctx context.Context, owner, repo string, workflowID int64, page, perPage int) ([]model.Run, error) {
	opts := &github.ListWorkflowRunsOptions{
		ListOptions: github.ListOptions{Page: page, PerPage: min(perPage, MaxPerPage)},
	}
	result, _, err := c.gh.Actions.ListWorkflowRunsByID(ctx, owner, repo, workflowID, opts)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("listing runs of workflow %d", workflowID))
	}
	runs := make([]model.Run, 0, len(result.WorkflowRuns))
	for _, r := range result.WorkflowRuns {
		runs = append(runs, model.Run{
			ID:         r.GetID(),
			RunNumber:  r.GetRunNumber(),
			Status:     r.GetStatus(),
			Conclusion: r.GetConclusion(),
			CreatedAt:  r.GetCreatedAt().Time,
			Event:      r.GetEvent(),
		})
	}
	return runs, nil
}

// ListJobs returns every job of a run
func (c *Client) ListJobs(ctx context.Context, owner, repo string, runID int64) ([]model.Job, error) {
	opts := &github.ListWorkflowJobsOptions{ListOptions: github.ListOptions{PerPage: MaxPerPage}}
	var all []model.Job
	for {
		page, resp, err := c.gh.Actions.ListWorkflowJobs(ctx, owner, repo, runID, opts)
		if err != nil {
			return nil, classify(err, fmt.Sprintf("listing jobs of run %d", runID))
		}
		for _, j := range page.Jobs {
			all = append(all, model.Job{
				ID:         j.GetID(),
				Name:       j.GetName(),
				Status:     j.GetStatus(),
				Conclusion: j.GetConclusion(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// RunLogURL returns the download location of a run's log archive
func (c *Client) RunLogURL(ctx context.Context, owner, repo string, runID int64) (*url.URL, error) {
	u, resp, err := c.gh.Actions.GetWorkflowRunLogs(ctx, owner, repo, runID, 1)
	if err != nil {
		return nil, classifyLog(resp, err, fmt.Sprintf("run %d", runID))
	}
	return u, nil
}

// JobLogURL returns the download location of a job's log
func (c *Client) JobLogURL(ctx context.Context, owner, repo string, jobID int64) (*url.URL, error) {
	u, resp, err := c.gh.Actions.GetWorkflowJobLogs(ctx, owner, repo, jobID, 1)
	if err != nil {
		return nil, classifyLog(resp, err, fmt.Sprintf("job %d", jobID))
	}
	return u, nil
}

// FetchWorkflowFile returns the decoded content of a file in the repository
func (c *Client) FetchWorkflowFile(ctx context.Context, owner, repo, path string) (string, error) {
	file, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		return "", classify(err, "fetching "+path)
	}
	if file == nil {
		return "", fmt.Errorf("%w: %s is a directory", model.ErrNotFound, path)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("%w: decoding %s: %w", model.ErrParse, path, err)
	}
	return content, nil
}

// classify maps go-github errors onto the sentinel errors
func classify(err error, action string) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: %s: API rate limit exceeded", model.ErrAuth, action)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: %s: secondary rate limit", model.ErrTransport, action)
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s: %s", model.ErrAuth, action, ghErr.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", model.ErrNotFound, action)
		}
		return fmt.Errorf("%w: %s: %s", model.ErrTransport, action, ghErr.Response.Status)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrTransport, action, err)
}

// classifyLog treats every answered log request that did not redirect as an
// unavailable log; only failures without a response are transport errors.
func classifyLog(resp *github.Response, err error, what string) error {
	if resp == nil || resp.Response == nil {
		return fmt.Errorf("%w: locating %s log: %w", model.ErrTransport, what, err)
	}
	return fmt.Errorf("%w: locating %s log: %s", model.ErrLogUnavailable, what, resp.Status)
}
