package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrNoFeedVersion is returned when a descriptor source knows the carrier
// but has no published version.
var ErrNoFeedVersion = errors.New("no feed version available")

// ErrUnknownCarrier is returned for carriers a source is not configured for.
var ErrUnknownCarrier = errors.New("carrier not configured")

// Descriptor identifies one published version of a carrier's feed.
type Descriptor struct {
	Carrier     string
	Fingerprint string
	URL         string
}

// Source resolves the current descriptor for a carrier.
type Source interface {
	Descriptor(ctx context.Context, carrier string) (Descriptor, error)
}

// DefaultTransitlandURL is the transit.land REST endpoint.
const DefaultTransitlandURL = "https://transit.land/api/v2/rest"

// Transitland reads the latest feed version of each carrier's onestop id.
type Transitland struct {
	client  *http.Client
	baseURL string
	apiKey  string
	feeds   map[string]string // carrier code -> onestop id
}

func NewTransitland(baseURL, apiKey string, feeds map[string]string) *Transitland {
	if baseURL == "" {
		baseURL = DefaultTransitlandURL
	}
	return &Transitland{
		client:  &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		feeds:   feeds,
	}
}

type transitlandResponse struct {
	Feeds []struct {
		OnestopID    string `json:"onestop_id"`
		FeedVersions []struct {
			SHA1 string `json:"sha1"`
			URL  string `json:"url"`
		} `json:"feed_versions"`
	} `json:"feeds"`
}

func (t *Transitland) Descriptor(ctx context.Context, carrier string) (Descriptor, error) {
	onestop, ok := t.feeds[carrier]
	if !ok {
		return Descriptor{}, fmt.Errorf("%s: %w", carrier, ErrUnknownCarrier)
	}
	q := url.Values{}
	q.Set("onestop_id", onestop)
	q.Set("api_key", t.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/feeds?"+q.Encode(), nil)
	if err != nil {
		return Descriptor{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Descriptor{}, fmt.Errorf("transitland request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Descriptor{}, fmt.Errorf("transitland: unexpected status: %d", resp.StatusCode)
	}

	var body transitlandResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Descriptor{}, fmt.Errorf("decode transitland response: %w", err)
	}
	if len(body.Feeds) == 0 || len(body.Feeds[0].FeedVersions) == 0 {
		return Descriptor{}, fmt.Errorf("%s (%s): %w", carrier, onestop, ErrNoFeedVersion)
	}
	v := body.Feeds[0].FeedVersions[0]
	if v.SHA1 == "" || v.URL == "" {
		return Descriptor{}, fmt.Errorf("%s (%s): %w", carrier, onestop, ErrNoFeedVersion)
	}
	return Descriptor{Carrier: carrier, Fingerprint: v.SHA1, URL: v.URL}, nil
}

// StaticSource serves carriers whose feed lives at a fixed URL. The
// fingerprint is the ETag of a HEAD response, or Last-Modified without one.
type StaticSource struct {
	client *http.Client
	urls   map[string]string
}

func NewStaticSource(urls map[string]string) *StaticSource {
	return &StaticSource{client: &http.Client{}, urls: urls}
}

func (s *StaticSource) Descriptor(ctx context.Context, carrier string) (Descriptor, error) {
	u, ok := s.urls[carrier]
	if !ok {
		return Descriptor{}, fmt.Errorf("%s: %w", carrier, ErrUnknownCarrier)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return Descriptor{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Descriptor{}, fmt.Errorf("HEAD request: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Descriptor{}, fmt.Errorf("HEAD %s: unexpected status: %d", u, resp.StatusCode)
	}

	fp := resp.Header.Get("ETag")
	if fp == "" {
		fp = resp.Header.Get("Last-Modified")
	}
	if fp == "" {
		return Descriptor{}, fmt.Errorf("%s: no ETag or Last-Modified: %w", carrier, ErrNoFeedVersion)
	}
	return Descriptor{Carrier: carrier, Fingerprint: fp, URL: u}, nil
}

// Sources tries each source that knows the carrier, in order.
type Sources []Source

func (ss Sources) Descriptor(ctx context.Context, carrier string) (Descriptor, error) {
	for _, s := range ss {
		d, err := s.Descriptor(ctx, carrier)
		if errors.Is(err, ErrUnknownCarrier) {
			continue
		}
		return d, err
	}
	return Descriptor{}, fmt.Errorf("%s: %w", carrier, ErrUnknownCarrier)
}
