// Package mockscm implements an in-memory SCM plugin with configurable
// per-PR state, for exercising the Lifecycle Controller's SCM overlay (spec
// §4.2) without a real git host. Grounded on the teacher's
// internal/github/mock_client.go (in-memory, sync.RWMutex-protected,
// test-configurable).
package mockscm

import (
	"context"
	"sync"

	"github.com/kandev/agent-orchestrator/internal/apperrors"
	"github.com/kandev/agent-orchestrator/internal/plugin"
)

type prKey struct {
	Owner  string
	Repo   string
	Number int
}

// PRData is the full configurable state for one pull request.
type PRData struct {
	Info               plugin.PRInfo
	State              plugin.PRState
	CI                 plugin.CISummary
	Review             plugin.ReviewDecision
	PendingComments    []plugin.Comment
	AutomatedComments  []plugin.AutomatedComment
	Mergeability       plugin.Mergeability
}

// Client is an in-memory SCM plugin for tests.
type Client struct {
	mu      sync.RWMutex
	prs     map[prKey]*PRData
	merged  map[prKey]bool
	closed  map[prKey]bool

	// DetectPRFunc, if set, is used by DetectPR instead of the default
	// "no PR found" behavior, letting tests simulate a PR appearing.
	DetectPRFunc func(branch string) *plugin.PRInfo
}

// NewClient returns an empty mock SCM client.
func NewClient() *Client {
	return &Client{
		prs:    make(map[prKey]*PRData),
		merged: make(map[prKey]bool),
		closed: make(map[prKey]bool),
	}
}

func keyOf(pr plugin.PRInfo) prKey { return prKey{Owner: pr.Owner, Repo: pr.Repo, Number: pr.Number} }

// Seed installs (or replaces) the full data for a PR.
func (c *Client) Seed(data PRData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := data
	c.prs[keyOf(data.Info)] = &d
}

// SetCI updates just the CI summary for an already-seeded PR.
func (c *Client) SetCI(pr plugin.PRInfo, ci plugin.CISummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.prs[keyOf(pr)]; ok {
		d.CI = ci
	}
}

// SetReview updates just the review decision for an already-seeded PR.
func (c *Client) SetReview(pr plugin.PRInfo, r plugin.ReviewDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.prs[keyOf(pr)]; ok {
		d.Review = r
	}
}

// SetState transitions an already-seeded PR's lifecycle state.
func (c *Client) SetState(pr plugin.PRInfo, state plugin.PRState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.prs[keyOf(pr)]; ok {
		d.State = state
	}
}

// SetAutomatedComments replaces the automated-comment set for an
// already-seeded PR, letting tests simulate new bot comments arriving.
func (c *Client) SetAutomatedComments(pr plugin.PRInfo, comments []plugin.AutomatedComment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.prs[keyOf(pr)]; ok {
		d.AutomatedComments = comments
	}
}

func (c *Client) get(pr plugin.PRInfo) (*PRData, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.prs[keyOf(pr)]
	if !ok {
		return nil, apperrors.NotFoundf("mock SCM has no data for PR #%d", pr.Number)
	}
	return d, nil
}

func (c *Client) DetectPR(ctx context.Context, branch, workspacePath string) (*plugin.PRInfo, error) {
	if c.DetectPRFunc != nil {
		return c.DetectPRFunc(branch), nil
	}
	return nil, nil
}

func (c *Client) GetPRState(ctx context.Context, pr plugin.PRInfo) (plugin.PRState, error) {
	d, err := c.get(pr)
	if err != nil {
		return "", err
	}
	return d.State, nil
}

func (c *Client) GetCISummary(ctx context.Context, pr plugin.PRInfo) (plugin.CISummary, error) {
	d, err := c.get(pr)
	if err != nil {
		return "", err
	}
	return d.CI, nil
}

func (c *Client) GetReviewDecision(ctx context.Context, pr plugin.PRInfo) (plugin.ReviewDecision, error) {
	d, err := c.get(pr)
	if err != nil {
		return "", err
	}
	return d.Review, nil
}

func (c *Client) GetPendingComments(ctx context.Context, pr plugin.PRInfo) ([]plugin.Comment, error) {
	d, err := c.get(pr)
	if err != nil {
		return nil, err
	}
	return d.PendingComments, nil
}

func (c *Client) GetAutomatedComments(ctx context.Context, pr plugin.PRInfo) ([]plugin.AutomatedComment, error) {
	d, err := c.get(pr)
	if err != nil {
		return nil, err
	}
	return d.AutomatedComments, nil
}

func (c *Client) GetMergeability(ctx context.Context, pr plugin.PRInfo) (plugin.Mergeability, error) {
	d, err := c.get(pr)
	if err != nil {
		return plugin.Mergeability{}, err
	}
	return d.Mergeability, nil
}

func (c *Client) MergePR(ctx context.Context, pr plugin.PRInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.prs[keyOf(pr)]
	if !ok {
		return apperrors.NotFoundf("mock SCM has no data for PR #%d", pr.Number)
	}
	d.State = plugin.PRStateMerged
	return nil
}

func (c *Client) ClosePR(ctx context.Context, pr plugin.PRInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.prs[keyOf(pr)]
	if !ok {
		return apperrors.NotFoundf("mock SCM has no data for PR #%d", pr.Number)
	}
	d.State = plugin.PRStateClosed
	return nil
}

var _ plugin.SCM = (*Client)(nil)
