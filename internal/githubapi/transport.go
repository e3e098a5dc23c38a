package githubapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v75/github"
)

const defaultGitHubAPIBaseURL = "https://api.github.com/"

// Request describes one GET against the GitHub REST API.
type Request struct {
	// Resource is a low-cardinality name used for metrics and spans, like "org_repos".
	Resource string
	Path     string
	Query    url.Values
	Header   http.Header
}

// Response is the raw outcome of one request. Non-success statuses are reported through
// StatusCode with a nil error; only transport failures produce an error.
type Response struct {
	StatusCode int
	NextPage   int
	Body       []byte
}

// Transport issues authenticated GitHub REST requests.
type Transport interface {
	Get(ctx context.Context, req Request) (Response, error)
}

// RESTTransport implements Transport over a go-github client, which resolves the base URL and
// parses pagination links.
type RESTTransport struct {
	client *github.Client
}

// NewRESTTransport creates a transport with an optional API base URL override.
func NewRESTTransport(httpClient *http.Client, apiBaseURL string) (*RESTTransport, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	parsedURL, err := parseAPIBaseURL(apiBaseURL)
	if err != nil {
		return nil, err
	}

	client := github.NewClient(httpClient)
	client.BaseURL = parsedURL
	return &RESTTransport{client: client}, nil
}

// Get performs one request and reads its body.
func (t *RESTTransport) Get(ctx context.Context, req Request) (Response, error) {
	path := strings.TrimPrefix(req.Path, "/")
	if path == "" {
		return Response{}, fmt.Errorf("request path is required")
	}
	if len(req.Query) > 0 {
		path += "?" + req.Query.Encode()
	}

	httpReq, err := t.client.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return Response{}, fmt.Errorf("build request %s: %w", req.Path, err)
	}
	for key, values := range req.Header {
		httpReq.Header.Del(key)
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	resp, err := t.client.BareDo(ctx, httpReq)
	if resp == nil {
		if err == nil {
			err = fmt.Errorf("nil response")
		}
		return Response{}, fmt.Errorf("get %s: %w", req.Path, err)
	}

	result := Response{
		StatusCode: resp.StatusCode,
		NextPage:   resp.NextPage,
	}
	if err != nil {
		// go-github has already drained and closed the body of non-2xx responses.
		return result, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read %s response: %w", req.Path, err)
	}
	result.Body = body
	return result, nil
}

func parseAPIBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultGitHubAPIBaseURL
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse github api base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse github api base url: missing scheme or host")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	return parsed, nil
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode <= 299
}
