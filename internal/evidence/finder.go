package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/time/rate"
)

const (
	searchTimeout = 3 * time.Second
	maxResults    = 3

	// GitHub's search API allows 30 requests per minute; stay under it.
	proactiveRate = 0.4
)

// Issue is one related issue reference attached to an answer.
type Issue struct {
	Number int
	Title  string
	State  string
	URL    string
}

// issueSearcher is the slice of the GitHub API the finder uses.
type issueSearcher interface {
	Issues(ctx context.Context, query string, opts *gh.SearchOptions) (*gh.IssuesSearchResult, *gh.Response, error)
}

// Finder searches the configured repository for issues related to a
// question. Lookups are best-effort: failures and timeouts degrade to
// no evidence, never to a failed request.
type Finder struct {
	search  issueSearcher
	repo    string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewFinder creates a Finder for repo in "owner/name" form. token may
// be empty for unauthenticated search.
func NewFinder(repo, token string, logger *slog.Logger) *Finder {
	client := gh.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &Finder{
		search:  client.Search,
		repo:    repo,
		limiter: rate.NewLimiter(rate.Limit(proactiveRate), 1),
		logger:  logger,
	}
}

// Find returns up to three issues matching the question's keywords.
// Returns nil when the question yields no keywords, the rate budget is
// exhausted, or the search fails.
func (f *Finder) Find(ctx context.Context, question string) []Issue {
	keywords := Keywords(question)
	if len(keywords) == 0 {
		return nil
	}

	// Do not queue behind the rate limiter; skipping evidence is
	// cheaper than delaying the answer.
	if !f.limiter.Allow() {
		f.logger.Debug("skipping evidence lookup, rate budget exhausted")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	query := fmt.Sprintf("repo:%s is:issue %s", f.repo, strings.Join(keywords, " "))
	result, _, err := f.search.Issues(ctx, query, &gh.SearchOptions{
		Sort:        "updated",
		Order:       "desc",
		ListOptions: gh.ListOptions{PerPage: maxResults},
	})
	if err != nil {
		f.logger.Warn("evidence lookup failed, continuing without it", "error", err)
		return nil
	}

	issues := make([]Issue, 0, maxResults)
	for _, item := range result.Issues {
		if item.IsPullRequest() {
			continue
		}
		issues = append(issues, Issue{
			Number: item.GetNumber(),
			Title:  item.GetTitle(),
			State:  item.GetState(),
			URL:    item.GetHTMLURL(),
		})
		if len(issues) == maxResults {
			break
		}
	}
	return issues
}
