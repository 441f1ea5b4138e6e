package audit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const pageBodyLimit int64 = 1 << 20

var directoryListingSignatures = []string{
	"Index of /",
	"<title>Directory listing",
	"Parent Directory",
}

// pageOutcome classifies a storefront fetch.
type pageOutcome int

const (
	pageHealthy pageOutcome = iota
	pageUnreachable
	pageDirectoryListing
)

type pageProbe struct {
	outcome pageOutcome
	issue   string
	body    string
}

type prober struct {
	httpClient *http.Client
	marker     string
}

// fetchPage GETs the storefront and classifies it. A 2xx that renders a
// directory listing is a broken deployment, not a healthy one.
func (p *prober) fetchPage(ctx context.Context, pageURL string) pageProbe {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return pageProbe{outcome: pageUnreachable, issue: fmt.Sprintf("%s: %v", IssueDeploymentUnreachable, err)}
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return pageProbe{outcome: pageUnreachable, issue: fmt.Sprintf("%s: %v", IssueDeploymentUnreachable, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return pageProbe{outcome: pageUnreachable, issue: fmt.Sprintf("%s: status %d", IssueDeploymentUnreachable, resp.StatusCode)}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, pageBodyLimit))
	if err != nil {
		return pageProbe{outcome: pageUnreachable, issue: fmt.Sprintf("%s: %v", IssueDeploymentUnreachable, err)}
	}
	body := string(raw)
	for _, signature := range directoryListingSignatures {
		if strings.Contains(body, signature) {
			return pageProbe{outcome: pageDirectoryListing, issue: IssueDirectoryListing, body: body}
		}
	}
	return pageProbe{outcome: pageHealthy, body: body}
}

func (p *prober) hasWidget(body string) bool {
	return p.marker == "" || strings.Contains(body, p.marker)
}

// paymentAPI checks the health endpoint and that the start endpoint still
// tolerates GET, which catches transport-method regressions.
func (p *prober) paymentAPI(ctx context.Context, baseURL string) []string {
	base := strings.TrimRight(baseURL, "/")
	var issues []string

	status, err := p.status(ctx, base+"/api/health")
	switch {
	case err != nil:
		issues = append(issues, fmt.Sprintf("%s: %v", IssuePaymentAPIUnhealthy, err))
	case status < 200 || status > 299:
		issues = append(issues, fmt.Sprintf("%s: status %d", IssuePaymentAPIUnhealthy, status))
	}

	status, err = p.status(ctx, base+"/api/pay/start")
	switch {
	case err != nil:
		issues = append(issues, fmt.Sprintf("%s: %v", IssuePaymentAPIUnhealthy, err))
	case status == http.StatusMethodNotAllowed:
		issues = append(issues, IssuePaymentStartRejectsGET)
	}
	return issues
}

func (p *prober) status(ctx context.Context, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, pageBodyLimit))
	return resp.StatusCode, nil
}
