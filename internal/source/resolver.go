package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/egp-watch/internal/procurement"
)

// LatestResourceID asks the source to discover the resource on every run.
const LatestResourceID = "latest"

// DefaultDiscoveryTerm is the package_search query for procurement datasets.
const DefaultDiscoveryTerm = "จัดซื้อจัดจ้าง"

// ErrNoResource is returned when package_search lists no usable resource.
var ErrNoResource = errors.New("no procurement resource found")

var resolvableFormats = map[string]bool{"csv": true, "api": true, "json": true}

// Resource identifies one datastore resource inside a CKAN package.
type Resource struct {
	ID      string
	Name    string
	Format  string
	Package string
}

// Resolver discovers the newest procurement resource through package_search.
type Resolver struct {
	fetcher Fetcher
	baseURL string
	apiKey  string
	term    string
	rows    int
	logger  *zap.Logger
}

// NewResolver builds a Resolver. An empty term uses DefaultDiscoveryTerm.
func NewResolver(fetcher Fetcher, baseURL, apiKey, term string, logger *zap.Logger) *Resolver {
	if term == "" {
		term = DefaultDiscoveryTerm
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		term:    term,
		rows:    3,
		logger:  logger,
	}
}

// Latest returns the first resource with a datastore-friendly format, walking
// the most recently modified packages first and each package's resources from
// the end.
func (r *Resolver) Latest(ctx context.Context) (Resource, error) {
	params := url.Values{}
	params.Set("q", r.term)
	params.Set("sort", "metadata_modified desc")
	params.Set("rows", strconv.Itoa(r.rows))
	req := procurement.Request{
		Method:  http.MethodGet,
		URL:     r.baseURL + "/package_search",
		Query:   params,
		Headers: apiKeyHeader(r.apiKey),
	}
	body, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return Resource{}, fmt.Errorf("package_search: %w", err)
	}
	obj, err := decodeEnvelope("package_search", body, packageSearchSchema)
	if err != nil {
		return Resource{}, err
	}
	result, _ := obj["result"].(map[string]any)
	packages, _ := result["results"].([]any)
	for _, p := range packages {
		pkg, _ := p.(map[string]any)
		resources, _ := pkg["resources"].([]any)
		for i := len(resources) - 1; i >= 0; i-- {
			res := procurement.Record(asMap(resources[i]))
			if !resolvableFormats[strings.ToLower(res.Field("format"))] || res.Field("id") == "" {
				continue
			}
			found := Resource{
				ID:      res.Field("id"),
				Name:    res.Field("name"),
				Format:  res.Field("format"),
				Package: procurement.Record(pkg).Field("name"),
			}
			r.logger.Info("resolved latest resource",
				zap.String("resource_id", found.ID),
				zap.String("name", found.Name),
				zap.String("package", found.Package),
			)
			return found, nil
		}
	}
	return Resource{}, ErrNoResource
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func apiKeyHeader(key string) http.Header {
	h := http.Header{}
	if key != "" {
		h.Set("api-key", key)
	}
	return h
}
