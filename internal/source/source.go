// Package source fetches candidate procurement records from the open-data
// portal, degrading from a precise SQL query to per-keyword searches to a
// delegating endpoint.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/egp-watch/internal/metrics"
	"github.com/JakeFAU/egp-watch/internal/procurement"
)

// Tier names reported in Result and logs.
const (
	TierSQL      = "sql"
	TierKeyword  = "keyword"
	TierDelegate = "delegate"
)

// Fetcher is the retrying request path used for every upstream call.
type Fetcher interface {
	Fetch(ctx context.Context, req procurement.Request) (json.RawMessage, error)
}

// Config describes what to query and where.
type Config struct {
	BaseURL      string
	APIKey       string
	ResourceID   string
	Method       string
	Keywords     []string
	MatchFields  []string
	SQLLimit     int
	KeywordLimit int
	DelegateURL  string
}

// Result is a successful fetch. Records may be empty.
type Result struct {
	Records []procurement.Record
	Tier    string
}

type tier struct {
	name string
	run  func(context.Context) ([]procurement.Record, error)
}

// Source runs the tier cascade.
type Source struct {
	cfg      Config
	fetcher  Fetcher
	resolver *Resolver
	hasher   procurement.Hasher
	filter   *Filter
	logger   *zap.Logger

	mu         sync.Mutex
	resourceID string
}

// New builds a Source. The resolver is only consulted when cfg.ResourceID is "latest".
func New(cfg Config, fetcher Fetcher, resolver *Resolver, hasher procurement.Hasher, logger *zap.Logger) *Source {
	if len(cfg.MatchFields) == 0 {
		cfg.MatchFields = DefaultMatchFields
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Source{
		cfg:      cfg,
		fetcher:  fetcher,
		resolver: resolver,
		hasher:   hasher,
		filter:   NewFilter(cfg.Keywords, cfg.MatchFields),
		logger:   logger,
	}
}

// Fetch returns the records of the first tier that succeeds. When every tier
// fails the error wraps procurement.ErrAllSourcesExhausted and each tier's cause.
func (s *Source) Fetch(ctx context.Context) (Result, error) {
	tiers := []tier{
		{TierSQL, s.fetchSQL},
		{TierKeyword, s.fetchKeywords},
	}
	if s.cfg.DelegateURL != "" {
		tiers = append(tiers, tier{TierDelegate, s.fetchDelegate})
	}

	causes := []error{procurement.ErrAllSourcesExhausted}
	for _, t := range tiers {
		records, err := t.run(ctx)
		if err == nil {
			metrics.ObserveSourceTier(t.name, "success")
			s.logger.Info("source tier succeeded", zap.String("tier", t.name), zap.Int("records", len(records)))
			return Result{Records: records, Tier: t.name}, nil
		}
		metrics.ObserveSourceTier(t.name, "failure")
		s.logger.Warn("source tier failed", zap.String("tier", t.name), zap.Error(err))
		causes = append(causes, fmt.Errorf("%s tier: %w", t.name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return Result{}, errors.Join(causes...)
}

// SQLRequest builds the datastore_search_sql request for the configured resource.
func (s *Source) SQLRequest(ctx context.Context) (procurement.Request, error) {
	rid, err := s.resolveResourceID(ctx)
	if err != nil {
		return procurement.Request{}, err
	}
	stmt := SQLQuery{
		ResourceID:  rid,
		Keywords:    s.cfg.Keywords,
		MatchFields: s.cfg.MatchFields,
		Limit:       s.cfg.SQLLimit,
	}.Statement()

	req := procurement.Request{
		Method:  http.MethodGet,
		URL:     s.cfg.BaseURL + "/datastore_search_sql",
		Headers: apiKeyHeader(s.cfg.APIKey),
	}
	if strings.EqualFold(s.cfg.Method, http.MethodPost) {
		body, err := json.Marshal(map[string]string{"sql": stmt})
		if err != nil {
			return procurement.Request{}, fmt.Errorf("encode sql body: %w", err)
		}
		req.Method = http.MethodPost
		req.Body = body
		req.Headers.Set("Content-Type", "application/json")
		return req, nil
	}
	req.Query = url.Values{"sql": {stmt}}
	return req, nil
}

func (s *Source) fetchSQL(ctx context.Context) ([]procurement.Record, error) {
	req, err := s.SQLRequest(ctx)
	if err != nil {
		return nil, err
	}
	body, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return DecodeRecords(TierSQL, body)
}

func (s *Source) fetchKeywords(ctx context.Context) ([]procurement.Record, error) {
	rid, err := s.resolveResourceID(ctx)
	if err != nil {
		return nil, err
	}
	query := KeywordQuery{ResourceID: rid, Keywords: s.cfg.Keywords, Limit: s.cfg.KeywordLimit}

	var (
		merged    []procurement.Record
		seen      = map[string]struct{}{}
		succeeded int
		failures  []error
	)
	for _, keyword := range query.Keywords {
		if strings.TrimSpace(keyword) == "" {
			continue
		}
		req := procurement.Request{
			Method:  http.MethodGet,
			URL:     s.cfg.BaseURL + "/datastore_search",
			Query:   query.Params(keyword),
			Headers: apiKeyHeader(s.cfg.APIKey),
		}
		body, err := s.fetcher.Fetch(ctx, req)
		if err == nil {
			var records []procurement.Record
			records, err = DecodeRecords(TierKeyword, body)
			if err == nil {
				succeeded++
				merged, err = s.union(merged, seen, records)
			}
		}
		if err != nil {
			s.logger.Warn("keyword query failed", zap.String("keyword", keyword), zap.Error(err))
			failures = append(failures, fmt.Errorf("keyword %q: %w", keyword, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	if succeeded == 0 {
		if len(failures) == 0 {
			return nil, errors.New("no keywords configured")
		}
		return nil, errors.Join(failures...)
	}
	return s.filter.Apply(merged), nil
}

func (s *Source) union(merged []procurement.Record, seen map[string]struct{}, records []procurement.Record) ([]procurement.Record, error) {
	for _, rec := range records {
		key := rec.ProjectID()
		if key == "" {
			fp, err := s.hasher.Fingerprint(rec)
			if err != nil {
				return merged, fmt.Errorf("fingerprint record: %w", err)
			}
			key = "sha256:" + fp
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, rec)
	}
	return merged, nil
}

func (s *Source) fetchDelegate(ctx context.Context) ([]procurement.Record, error) {
	target := strings.TrimRight(s.cfg.DelegateURL, "/")
	if !strings.HasSuffix(target, "/egp") {
		target += "/egp"
	}
	body, err := s.fetcher.Fetch(ctx, procurement.Request{Method: http.MethodGet, URL: target})
	if err != nil {
		return nil, err
	}
	return DecodeRecords(TierDelegate, body)
}

func (s *Source) resolveResourceID(ctx context.Context) (string, error) {
	if !strings.EqualFold(s.cfg.ResourceID, LatestResourceID) {
		return s.cfg.ResourceID, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resourceID != "" {
		return s.resourceID, nil
	}
	if s.resolver == nil {
		return "", fmt.Errorf("resource id %q requires a resolver", LatestResourceID)
	}
	res, err := s.resolver.Latest(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve resource id: %w", err)
	}
	s.resourceID = res.ID
	return s.resourceID, nil
}
