package costs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"opsync-backend/internal/awssig"
	"opsync-backend/internal/integration"
)

const (
	DefaultEndpoint = "https://ce.us-east-1.amazonaws.com/"
	ServiceName     = "ce"
	contentType     = "application/x-amz-json-1.1"
	targetCostUsage = "AWSInsightsIndexService.GetCostAndUsage"
	dateLayout      = "2006-01-02"

	MetricUnblendedCost = "UnblendedCost"
	MetricUsageQuantity = "UsageQuantity"

	defaultEnvironmentTag = "Environment"
	defaultCallTimeout    = 30 * time.Second
	maxPages              = 50
)

type DateInterval struct {
	Start string `json:"Start"`
	End   string `json:"End"`
}

type GroupDefinition struct {
	Type string `json:"Type"`
	Key  string `json:"Key"`
}

type GetCostAndUsageRequest struct {
	TimePeriod    DateInterval      `json:"TimePeriod"`
	Granularity   string            `json:"Granularity"`
	Metrics       []string          `json:"Metrics"`
	GroupBy       []GroupDefinition `json:"GroupBy"`
	NextPageToken string            `json:"NextPageToken,omitempty"`
}

type MetricValue struct {
	Amount string `json:"Amount"`
	Unit   string `json:"Unit"`
}

type Group struct {
	Keys    []string               `json:"Keys"`
	Metrics map[string]MetricValue `json:"Metrics"`
}

type ResultByTime struct {
	TimePeriod DateInterval `json:"TimePeriod"`
	Groups     []Group      `json:"Groups"`
	Estimated  bool         `json:"Estimated"`
}

type getCostAndUsageResponse struct {
	ResultsByTime []ResultByTime `json:"ResultsByTime"`
	NextPageToken string         `json:"NextPageToken"`
}

type apiError struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

// Client talks to the Cost Explorer JSON API with SigV4-signed requests.
type Client struct {
	Endpoint       string
	Signer         *awssig.Signer
	HTTP           *http.Client
	EnvironmentTag string
	Timeout        time.Duration
	Now            func() time.Time
}

type ClientConfig struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	EnvironmentTag string
	Timeout        time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	tag := cfg.EnvironmentTag
	if tag == "" {
		tag = defaultEnvironmentTag
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Client{
		Endpoint:       endpoint,
		Signer:         awssig.New(awssig.Credentials{AccessKey: cfg.AccessKey, SecretKey: cfg.SecretKey}, region, ServiceName),
		HTTP:           &http.Client{Timeout: timeout},
		EnvironmentTag: tag,
		Timeout:        timeout,
		Now:            time.Now,
	}
}

// FetchCostAndUsage returns daily cost and usage grouped by service and the
// environment tag over the half-open range [start, end), following pagination.
func (c *Client) FetchCostAndUsage(ctx context.Context, start, end time.Time) ([]ResultByTime, error) {
	req := GetCostAndUsageRequest{
		TimePeriod:  DateInterval{Start: start.UTC().Format(dateLayout), End: end.UTC().Format(dateLayout)},
		Granularity: "DAILY",
		Metrics:     []string{MetricUnblendedCost, MetricUsageQuantity},
		GroupBy: []GroupDefinition{
			{Type: "DIMENSION", Key: "SERVICE"},
			{Type: "TAG", Key: c.EnvironmentTag},
		},
	}
	results := []ResultByTime{}
	for page := 0; page < maxPages; page++ {
		var resp getCostAndUsageResponse
		if err := c.call(ctx, targetCostUsage, req, &resp); err != nil {
			return nil, err
		}
		results = append(results, resp.ResultsByTime...)
		if resp.NextPageToken == "" {
			return results, nil
		}
		req.NextPageToken = resp.NextPageToken
	}
	return results, nil
}

func (c *Client) call(ctx context.Context, target string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Amz-Target", target)
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if err := c.Signer.SignHTTP(req, body, now()); err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return integration.Connectivity(integration.AWSCostExplorer, target, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return integration.Connectivity(integration.AWSCostExplorer, target, err)
	}
	if resp.StatusCode >= 400 {
		return integration.Connectivity(integration.AWSCostExplorer, target, decodeAPIError(resp.StatusCode, data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", target, err)
	}
	return nil
}

func decodeAPIError(status int, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && (apiErr.Type != "" || apiErr.Message != "") {
		kind := apiErr.Type
		if i := strings.LastIndex(kind, "#"); i >= 0 {
			kind = kind[i+1:]
		}
		return fmt.Errorf("cost explorer %d %s: %s", status, kind, apiErr.Message)
	}
	return fmt.Errorf("cost explorer %d: %s", status, strings.TrimSpace(string(body)))
}
