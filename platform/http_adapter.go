/*
Copyright 2024 Distro Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ugamusic/distro/internal/request"
	"github.com/ugamusic/distro/model"
)

const defaultAdapterTimeout = 30 * time.Second

var defaultFieldMapping = map[string]string{
	"song_id":          "song_id",
	"title":            "title",
	"artist_name":      "artist",
	"isrc":             "isrc",
	"upc":              "upc",
	"release_date":     "release_date",
	"territories":      "territories",
	"content_advisory": "explicit_content",
	"genre":            "genre",
	"language":         "language",
	"price_tier":       "price_tier",
}

// HTTPAdapter talks to a platform's REST API as described by a ProviderConfig.
type HTTPAdapter struct {
	code       model.PlatformCode
	config     ProviderConfig
	httpClient *http.Client
}

func NewHTTPAdapter(config ProviderConfig) (*HTTPAdapter, error) {
	code, err := model.ParsePlatformCode(config.Code)
	if err != nil {
		return nil, err
	}
	timeout := defaultAdapterTimeout
	if config.TimeoutSec > 0 {
		timeout = time.Duration(config.TimeoutSec) * time.Second
	}
	return &HTTPAdapter{
		code:   code,
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Client exposes the underlying HTTP client, mainly so tests can intercept it.
func (p *HTTPAdapter) Client() *http.Client {
	return p.httpClient
}

func (p *HTTPAdapter) Code() model.PlatformCode {
	return p.code
}

func (p *HTTPAdapter) Submit(ctx context.Context, songID string, metadata model.ReleaseMetadata) (*SubmissionResult, error) {
	body, err := request.ToJsonReq(p.buildSubmitBody(songID, metadata))
	if err != nil {
		return nil, p.wrap("submit", fmt.Errorf("failed to marshal request body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+p.config.Endpoints.Submit, body)
	if err != nil {
		return nil, p.wrap("submit", fmt.Errorf("failed to create request: %w", err))
	}
	p.addAuth(req)

	var data map[string]interface{}
	if _, err := request.Do(p.httpClient, req, &data); err != nil {
		return nil, p.wrap("submit", err)
	}

	submissionID := stringValue(getNestedValue(data, p.config.ResponseMapping.SubmissionIDField))
	if submissionID == "" {
		return nil, p.wrap("submit", errors.New("response carried no submission id"))
	}
	return &SubmissionResult{SubmissionID: submissionID}, nil
}

func (p *HTTPAdapter) CheckStatus(ctx context.Context, submissionID string) (*StatusReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.config.Endpoints.Status, submissionID), nil)
	if err != nil {
		return nil, p.wrap("check status", fmt.Errorf("failed to create request: %w", err))
	}
	p.addAuth(req)

	var data map[string]interface{}
	if _, err := request.Do(p.httpClient, req, &data); err != nil {
		return nil, p.wrap("check status", err)
	}
	return p.parseStatus(data)
}

func (p *HTTPAdapter) RequestTakedown(ctx context.Context, submissionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.config.Endpoints.Takedown, submissionID), nil)
	if err != nil {
		return p.wrap("takedown", fmt.Errorf("failed to create request: %w", err))
	}
	p.addAuth(req)

	if _, err := request.Do(p.httpClient, req, nil); err != nil {
		return p.wrap("takedown", err)
	}
	return nil
}

func (p *HTTPAdapter) endpoint(path, submissionID string) string {
	return p.config.BaseURL + strings.ReplaceAll(path, "{submission_id}", url.PathEscape(submissionID))
}

func (p *HTTPAdapter) wrap(op string, err error) *AdapterError {
	adapterErr := &AdapterError{Platform: p.code, Op: op, Err: err}
	var statusErr *request.StatusError
	if errors.As(err, &statusErr) {
		adapterErr.Code = fmt.Sprintf("HTTP_%d", statusErr.StatusCode)
	}
	return adapterErr
}

func (p *HTTPAdapter) addAuth(req *http.Request) {
	switch strings.ToLower(p.config.AuthType) {
	case "basic":
		req.Header.Set("Authorization", "Basic "+request.BasicAuth(p.config.APIKey, p.config.APISecret))
	case "header":
		header := p.config.AuthHeader
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, p.config.APIKey)
	default:
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}
}

func (p *HTTPAdapter) buildSubmitBody(songID string, metadata model.ReleaseMetadata) map[string]interface{} {
	mapping := p.config.FieldMapping
	if mapping == nil {
		mapping = defaultFieldMapping
	}

	values := map[string]interface{}{
		"song_id":          songID,
		"title":            metadata.Title,
		"artist_name":      metadata.ArtistName,
		"isrc":             metadata.ISRC,
		"upc":              metadata.UPC,
		"territories":      metadata.Territories,
		"content_advisory": metadata.ContentAdvisory == model.AdvisoryExplicit,
		"genre":            metadata.Genre,
		"language":         metadata.Language,
		"price_tier":       metadata.PriceTier,
	}
	if !metadata.ReleaseDate.IsZero() {
		values["release_date"] = metadata.ReleaseDate.Format("2006-01-02")
	}

	body := make(map[string]interface{})
	for field, key := range mapping {
		if v, ok := values[field]; ok && key != "" {
			body[key] = v
		}
	}
	return body
}

func (p *HTTPAdapter) parseStatus(data map[string]interface{}) (*StatusReport, error) {
	m := p.config.ResponseMapping
	status := stringValue(getNestedValue(data, m.StatusField))

	report := &StatusReport{
		State:     mapState(status, m),
		Reason:    stringValue(getNestedValue(data, m.ReasonField)),
		ErrorCode: stringValue(getNestedValue(data, m.ErrorCodeField)),
	}
	if report.State == StateLive {
		report.PlatformURL = stringValue(getNestedValue(data, m.URLField))
		report.PlatformID = stringValue(getNestedValue(data, m.PlatformIDField))
	}

	if m.Metrics.StreamsField != "" {
		metrics, err := parseMetrics(data, m.Metrics)
		if err != nil {
			return nil, p.wrap("check status", err)
		}
		report.Metrics = metrics
	}
	return report, nil
}

func mapState(status string, m ResponseMapping) ReportState {
	if containsFold(m.LiveValues, status) {
		return StateLive
	}
	if containsFold(m.RejectedValues, status) {
		return StateRejected
	}
	if containsFold(m.FailedValues, status) {
		return StateFailed
	}
	return StateInReview
}

func parseMetrics(data map[string]interface{}, m MetricsMapping) (*model.MetricsSnapshot, error) {
	if getNestedValue(data, m.StreamsField) == nil {
		return nil, nil
	}

	revenue, err := decimalValue(getNestedValue(data, m.RevenueField))
	if err != nil {
		return nil, fmt.Errorf("invalid revenue in metrics: %w", err)
	}

	asOf := time.Now().UTC()
	if raw := stringValue(getNestedValue(data, m.AsOfField)); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid as_of in metrics: %w", err)
		}
		asOf = parsed
	}

	snapshot := &model.MetricsSnapshot{
		Streams:      intValue(getNestedValue(data, m.StreamsField)),
		Revenue:      revenue,
		Listeners:    intValue(getNestedValue(data, m.ListenersField)),
		PlaylistAdds: intValue(getNestedValue(data, m.PlaylistAddsField)),
		AsOf:         asOf,
	}
	if raw, ok := getNestedValue(data, m.CountriesField).([]interface{}); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				snapshot.Countries = append(snapshot.Countries, s)
			}
		}
	}
	return snapshot, nil
}

func getNestedValue(data map[string]interface{}, path string) interface{} {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	current := interface{}(data)

	for _, part := range parts {
		if m, ok := current.(map[string]interface{}); ok {
			current = m[part]
		} else {
			return nil
		}
	}
	return current
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return decimal.NewFromFloat(t).String()
	default:
		return ""
	}
}

func intValue(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return 0
		}
		return d.IntPart()
	default:
		return 0
	}
}

func decimalValue(v interface{}) (decimal.Decimal, error) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case string:
		return decimal.NewFromString(t)
	default:
		return decimal.Zero, fmt.Errorf("unsupported value %v", v)
	}
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
