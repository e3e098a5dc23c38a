package githubapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakePage struct {
	status   int
	nextPage int
	body     string
	err      error
}

type fakeTransport struct {
	mu       sync.Mutex
	pages    map[string][]fakePage
	requests []Request
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{pages: map[string][]fakePage{}}
}

func (f *fakeTransport) add(path string, pages ...fakePage) *fakeTransport {
	f.pages[path] = append(f.pages[path], pages...)
	return f
}

func (f *fakeTransport) Get(_ context.Context, req Request) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	queue := f.pages[req.Path]
	if len(queue) == 0 {
		return Response{StatusCode: http.StatusNotFound}, nil
	}
	page := queue[0]
	f.pages[req.Path] = queue[1:]
	if page.err != nil {
		return Response{}, page.err
	}
	status := page.status
	if status == 0 {
		status = http.StatusOK
	}
	return Response{StatusCode: status, NextPage: page.nextPage, Body: []byte(page.body)}, nil
}

func (f *fakeTransport) requestsFor(path string) []Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Request
	for _, req := range f.requests {
		if req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

type pageCounter struct {
	mu    sync.Mutex
	pages map[string]int
}

func (c *pageCounter) ObservePage(resource string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pages == nil {
		c.pages = map[string]int{}
	}
	c.pages[resource]++
}

func idsOf(t *testing.T, records []json.RawMessage) []int {
	t.Helper()

	ids := make([]int, 0, len(records))
	for _, record := range records {
		var item struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(record, &item); err != nil {
			t.Fatalf("json.Unmarshal() unexpected error: %v", err)
		}
		ids = append(ids, item.ID)
	}
	return ids
}

func updatedPage(startID int, updated ...string) string {
	items := make([]string, 0, len(updated))
	for idx, ts := range updated {
		items = append(items, fmt.Sprintf(`{"id":%d,"updated_at":%q}`, startID+idx, ts))
	}
	return "[" + strings.Join(items, ",") + "]"
}

func TestPagerAllFlattensPagesInOrder(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		pages   []fakePage
		wantIDs []int
		wantGet int
	}{
		{
			name: "three_pages_until_no_next",
			pages: []fakePage{
				{nextPage: 2, body: `[{"id":1},{"id":2}]`},
				{nextPage: 3, body: `[{"id":3}]`},
				{body: `[{"id":4},{"id":5},{"id":6}]`},
			},
			wantIDs: []int{1, 2, 3, 4, 5, 6},
			wantGet: 3,
		},
		{
			name: "empty_page_ends_walk",
			pages: []fakePage{
				{nextPage: 2, body: `[{"id":1}]`},
				{nextPage: 3, body: `[]`},
			},
			wantIDs: []int{1},
			wantGet: 2,
		},
		{
			name:    "empty_listing",
			pages:   []fakePage{{body: ``}},
			wantIDs: []int{},
			wantGet: 1,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			transport := newFakeTransport().add("orgs/acme/repos", tc.pages...)
			counter := &pageCounter{}
			pager := NewPager(transport, PagerOptions{Observer: counter})

			records, err := pager.All(context.Background(), Request{Resource: "org_repos", Path: "orgs/acme/repos"})
			if err != nil {
				t.Fatalf("All() unexpected error: %v", err)
			}
			got := idsOf(t, records)
			if fmt.Sprint(got) != fmt.Sprint(tc.wantIDs) {
				t.Fatalf("ids = %v, want %v", got, tc.wantIDs)
			}

			requests := transport.requestsFor("orgs/acme/repos")
			if len(requests) != tc.wantGet {
				t.Fatalf("requests = %d, want %d", len(requests), tc.wantGet)
			}
			for idx, req := range requests {
				if req.Query.Get("page") != fmt.Sprint(idx+1) {
					t.Fatalf("request %d page = %q, want %d", idx, req.Query.Get("page"), idx+1)
				}
				if req.Query.Get("per_page") != "100" {
					t.Fatalf("request %d per_page = %q, want 100", idx, req.Query.Get("per_page"))
				}
			}
			if counter.pages["org_repos"] != tc.wantGet {
				t.Fatalf("observed pages = %d, want %d", counter.pages["org_repos"], tc.wantGet)
			}
		})
	}
}

func TestPagerNewestSinceStopsAtCutoffPage(t *testing.T) {
	t.Parallel()

	bound := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	testCases := []struct {
		name    string
		pages   []fakePage
		wantIDs []int
		wantGet int
	}{
		{
			name: "cutoff_mid_second_page_keeps_whole_page",
			pages: []fakePage{
				{nextPage: 2, body: updatedPage(1, "2024-03-12T00:00:00Z", "2024-03-10T00:00:00Z")},
				{nextPage: 3, body: updatedPage(3, "2024-03-05T00:00:00Z", "2024-03-02T00:00:00Z", "2024-03-01T00:00:00Z")},
				{nextPage: 4, body: updatedPage(6, "2024-02-20T00:00:00Z")},
			},
			wantIDs: []int{1, 2, 3, 4, 5},
			wantGet: 2,
		},
		{
			name: "record_equal_to_bound_stops",
			pages: []fakePage{
				{nextPage: 2, body: updatedPage(1, "2024-03-03T00:00:00Z")},
				{body: updatedPage(2, "2024-03-01T00:00:00Z")},
			},
			wantIDs: []int{1},
			wantGet: 1,
		},
		{
			name: "no_cutoff_exhausts_listing",
			pages: []fakePage{
				{nextPage: 2, body: updatedPage(1, "2024-03-12T00:00:00Z")},
				{body: updatedPage(2, "2024-03-11T00:00:00Z")},
			},
			wantIDs: []int{1, 2},
			wantGet: 2,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			transport := newFakeTransport().add("repos/acme/api/pulls", tc.pages...)
			pager := NewPager(transport, PagerOptions{})

			records, err := pager.NewestSince(context.Background(), Request{Path: "repos/acme/api/pulls"}, "updated_at", bound)
			if err != nil {
				t.Fatalf("NewestSince() unexpected error: %v", err)
			}
			if got := idsOf(t, records); fmt.Sprint(got) != fmt.Sprint(tc.wantIDs) {
				t.Fatalf("ids = %v, want %v", got, tc.wantIDs)
			}
			if got := len(transport.requestsFor("repos/acme/api/pulls")); got != tc.wantGet {
				t.Fatalf("requests = %d, want %d", got, tc.wantGet)
			}
		})
	}
}

func TestPagerFailures(t *testing.T) {
	t.Parallel()

	networkErr := errors.New("connection reset")
	testCases := []struct {
		name        string
		pages       []fakePage
		wantPartial bool
		wantPage    int
		wantStatus  int
		wantErrIs   error
	}{
		{
			name:       "first_page_status_is_transport_error",
			pages:      []fakePage{{status: http.StatusForbidden}},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "mid_pagination_status_discards_accepted_pages",
			pages: []fakePage{
				{nextPage: 2, body: `[{"id":1}]`},
				{status: http.StatusBadGateway},
			},
			wantPartial: true,
			wantPage:    2,
			wantStatus:  http.StatusBadGateway,
		},
		{
			name: "mid_pagination_network_error",
			pages: []fakePage{
				{nextPage: 2, body: `[{"id":1}]`},
				{nextPage: 3, body: `[{"id":2}]`},
				{err: networkErr},
			},
			wantPartial: true,
			wantPage:    3,
			wantErrIs:   networkErr,
		},
		{
			name: "malformed_page",
			pages: []fakePage{
				{nextPage: 2, body: `[{"id":1}]`},
				{body: `{"message":"not a list"}`},
			},
			wantPartial: true,
			wantPage:    2,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			transport := newFakeTransport().add("orgs/acme/members", tc.pages...)
			records, err := NewPager(transport, PagerOptions{}).All(context.Background(), Request{Path: "orgs/acme/members"})
			if err == nil {
				t.Fatalf("All() expected error, got nil")
			}
			if records != nil {
				t.Fatalf("All() returned %d records alongside an error", len(records))
			}

			var partial *PartialFetchError
			if errors.As(err, &partial) != tc.wantPartial {
				t.Fatalf("PartialFetchError = %t, want %t (err=%v)", !tc.wantPartial, tc.wantPartial, err)
			}
			if tc.wantPartial && partial.Page != tc.wantPage {
				t.Fatalf("PartialFetchError.Page = %d, want %d", partial.Page, tc.wantPage)
			}
			if tc.wantStatus != 0 && StatusCode(err) != tc.wantStatus {
				t.Fatalf("StatusCode(err) = %d, want %d", StatusCode(err), tc.wantStatus)
			}
			if tc.wantErrIs != nil && !errors.Is(err, tc.wantErrIs) {
				t.Fatalf("error = %v, want wrapped %v", err, tc.wantErrIs)
			}
		})
	}
}

func TestPagerMaxPages(t *testing.T) {
	t.Parallel()

	pages := []fakePage{
		{nextPage: 2, body: `[{"id":1}]`},
		{nextPage: 3, body: `[{"id":2}]`},
		{body: `[{"id":3}]`},
	}

	testCases := []struct {
		name         string
		maxPages     int
		wantIDs      string
		wantRequests int
		wantPage     int
	}{
		{name: "bound_below_listing_fails", maxPages: 2, wantRequests: 2, wantPage: 3},
		{name: "bound_equal_to_listing", maxPages: 3, wantIDs: "[1 2 3]", wantRequests: 3},
		{name: "unbounded", maxPages: 0, wantIDs: "[1 2 3]", wantRequests: 3},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			transport := newFakeTransport().add("orgs/acme/repos", pages...)
			pager := NewPager(transport, PagerOptions{PerPage: 1, MaxPages: tc.maxPages})

			records, err := pager.All(context.Background(), Request{Path: "orgs/acme/repos"})
			requests := transport.requestsFor("orgs/acme/repos")
			if len(requests) != tc.wantRequests || requests[0].Query.Get("per_page") != "1" {
				t.Fatalf("requests = %+v, want %d pages of one record", requests, tc.wantRequests)
			}

			if tc.wantPage != 0 {
				if records != nil {
					t.Fatalf("All() returned %d records from a truncated listing", len(records))
				}
				var partial *PartialFetchError
				if !errors.As(err, &partial) || !errors.Is(err, ErrPageLimit) {
					t.Fatalf("All() error = %v, want PartialFetchError wrapping ErrPageLimit", err)
				}
				if partial.Page != tc.wantPage {
					t.Fatalf("PartialFetchError.Page = %d, want %d", partial.Page, tc.wantPage)
				}
				return
			}

			if err != nil {
				t.Fatalf("All() unexpected error: %v", err)
			}
			if got := idsOf(t, records); fmt.Sprint(got) != tc.wantIDs {
				t.Fatalf("ids = %v, want %s", got, tc.wantIDs)
			}
		})
	}
}

func TestPagerMaxPagesStopBeforeBound(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport().add("repos/acme/api/pulls",
		fakePage{nextPage: 2, body: `[{"id":1,"updated_at":"2024-03-12T00:00:00Z"}]`},
		fakePage{nextPage: 3, body: `[{"id":2,"updated_at":"2024-03-01T00:00:00Z"}]`},
		fakePage{body: `[{"id":3,"updated_at":"2024-02-01T00:00:00Z"}]`},
	)
	pager := NewPager(transport, PagerOptions{MaxPages: 2})

	cutoff := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	records, err := pager.NewestSince(context.Background(), Request{Path: "repos/acme/api/pulls"}, "updated_at", cutoff)
	if err != nil {
		t.Fatalf("NewestSince() unexpected error: %v", err)
	}
	if got := idsOf(t, records); fmt.Sprint(got) != "[1 2]" {
		t.Fatalf("ids = %v, want [1 2]", got)
	}
}

func TestRecordTimestamp(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		record  string
		want    time.Time
		wantErr bool
	}{
		{name: "rfc3339", record: `{"merged_at":"2024-03-12T10:00:00Z"}`, want: time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)},
		{name: "null", record: `{"merged_at":null}`},
		{name: "missing", record: `{"id":1}`},
		{name: "not_a_string", record: `{"merged_at":12}`, wantErr: true},
		{name: "bad_format", record: `{"merged_at":"yesterday"}`, wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := recordTimestamp(json.RawMessage(tc.record), "merged_at")
			if tc.wantErr {
				if err == nil {
					t.Fatalf("recordTimestamp() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("recordTimestamp() unexpected error: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("recordTimestamp() = %s, want %s", got, tc.want)
			}
		})
	}
}
