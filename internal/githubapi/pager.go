package githubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const defaultPerPage = 100

// PageObserver receives one call per page accepted by a Pager.
type PageObserver interface {
	ObservePage(resource string)
}

// StopFunc reports whether a record ends the walk. The page holding that record is still
// returned in full.
type StopFunc func(record json.RawMessage) (bool, error)

// PagerOptions configures page size and an optional upper bound on pages per listing. A listing
// that still advertises a next page at the bound fails with ErrPageLimit.
type PagerOptions struct {
	PerPage  int
	MaxPages int
	Observer PageObserver
}

// Pager walks page-numbered GitHub REST listings and flattens their records.
type Pager struct {
	transport Transport
	perPage   int
	maxPages  int
	observer  PageObserver
}

// NewPager creates a Pager over transport.
func NewPager(transport Transport, opts PagerOptions) *Pager {
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	return &Pager{
		transport: transport,
		perPage:   perPage,
		maxPages:  opts.MaxPages,
		observer:  opts.Observer,
	}
}

// All fetches every page of a listing. It also serves oldest-first listings, where relevance is
// cumulative from the start of history and callers filter after the full walk.
func (p *Pager) All(ctx context.Context, req Request) ([]json.RawMessage, error) {
	return p.Walk(ctx, req, nil)
}

// NewestSince fetches a listing sorted newest-first by field and stops after the first page that
// holds a record whose field is at or before bound.
func (p *Pager) NewestSince(ctx context.Context, req Request, field string, bound time.Time) ([]json.RawMessage, error) {
	return p.Walk(ctx, req, func(record json.RawMessage) (bool, error) {
		ts, err := recordTimestamp(record, field)
		if err != nil {
			return false, err
		}
		return !ts.IsZero() && !ts.After(bound), nil
	})
}

// Walk fetches pages until the listing is exhausted or stop fires. A failure on any page fails
// the whole walk, and so does reaching the page bound before either.
func (p *Pager) Walk(ctx context.Context, req Request, stop StopFunc) ([]json.RawMessage, error) {
	var records []json.RawMessage
	page := 1
	for fetched := 0; ; fetched++ {
		if p.maxPages > 0 && fetched == p.maxPages {
			return nil, &PartialFetchError{Path: req.Path, Page: page, Err: ErrPageLimit}
		}
		pageRecords, nextPage, err := p.fetchPage(ctx, req, page)
		if err != nil {
			if page > 1 {
				return nil, &PartialFetchError{Path: req.Path, Page: page, Err: err}
			}
			return nil, err
		}
		if len(pageRecords) == 0 {
			break
		}
		records = append(records, pageRecords...)

		done := nextPage == 0
		if stop != nil && !done {
			for _, record := range pageRecords {
				hit, err := stop(record)
				if err != nil {
					return nil, fmt.Errorf("evaluate %s page %d: %w", req.Path, page, err)
				}
				if hit {
					done = true
					break
				}
			}
		}
		if done {
			break
		}
		page = nextPage
	}
	return records, nil
}

func (p *Pager) fetchPage(ctx context.Context, req Request, page int) ([]json.RawMessage, int, error) {
	query := url.Values{}
	for key, values := range req.Query {
		query[key] = append([]string(nil), values...)
	}
	if query.Get("per_page") == "" {
		query.Set("per_page", strconv.Itoa(p.perPage))
	}
	query.Set("page", strconv.Itoa(page))

	pageReq := req
	pageReq.Query = query
	resp, err := p.transport.Get(ctx, pageReq)
	if err != nil {
		return nil, 0, err
	}
	if !isSuccess(resp.StatusCode) {
		return nil, 0, &TransportError{Path: req.Path, StatusCode: resp.StatusCode}
	}

	var records []json.RawMessage
	if body := bytes.TrimSpace(resp.Body); len(body) > 0 {
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, 0, fmt.Errorf("decode %s page %d: %w", req.Path, page, err)
		}
	}
	if p.observer != nil {
		p.observer.ObservePage(req.Resource)
	}
	return records, resp.NextPage, nil
}

// recordTimestamp reads an RFC3339 field from a raw record. Missing and null fields yield the
// zero time.
func recordTimestamp(record json.RawMessage, field string) (time.Time, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record, &fields); err != nil {
		return time.Time{}, fmt.Errorf("decode record: %w", err)
	}
	raw, ok := fields[field]
	if !ok || string(raw) == "null" {
		return time.Time{}, nil
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return time.Time{}, fmt.Errorf("decode %s: %w", field, err)
	}
	if value == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return ts, nil
}
