package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/move-calendar/internal/models"
	"github.com/example/move-calendar/internal/observability"
)

// HTTPProvider posts calendar requests to a remote pricing data provider.
type HTTPProvider struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPProvider(endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProvider) FetchMonth(ctx context.Context, route models.Route, month models.Month) (models.MonthData, error) {
	start := time.Now()
	data, err := p.fetch(ctx, NewRequest(route, month))
	observability.ProviderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ProviderFetches.WithLabelValues("error").Inc()
		return models.MonthData{}, err
	}
	observability.ProviderFetches.WithLabelValues("ok").Inc()
	return data, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, body Request) (models.MonthData, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return models.MonthData{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint+"/pricing/calendar", bytes.NewReader(b))
	if err != nil {
		return models.MonthData{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return models.MonthData{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.MonthData{}, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.MonthData{}, fmt.Errorf("%w: decode: %v", ErrFetchFailed, err)
	}
	return out.MonthData(), nil
}
