package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"opsync-backend/internal/integration"
)

const (
	searchPath = "/rest/api/3/search/jql"
	myselfPath = "/rest/api/3/myself"

	defaultCallTimeout = 30 * time.Second
)

// Issue is one search hit. Fields keeps the nested JSON maps as decoded.
type Issue struct {
	ID     string         `json:"id"`
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

// searchResponse is the enhanced search payload. Only the first page is
// read; callers bound the result with maxResults.
type searchResponse struct {
	Issues        []Issue `json:"issues"`
	NextPageToken string  `json:"nextPageToken"`
	IsLast        bool    `json:"isLast"`
}

type errorResponse struct {
	ErrorMessages []string          `json:"errorMessages"`
	Errors        map[string]string `json:"errors"`
}

type Client struct {
	BaseURL string
	Email   string
	Token   string
	HTTP    *http.Client
	Timeout time.Duration
}

func NewClient(baseURL, email, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Email:   email,
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
		Timeout: timeout,
	}
}

// Search runs a JQL query and returns at most maxResults issues carrying the
// requested fields.
func (c *Client) Search(ctx context.Context, jql string, maxResults int, fields []string) ([]Issue, error) {
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("maxResults", strconv.Itoa(maxResults))
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}
	var resp searchResponse
	if err := c.get(ctx, searchPath, q, &resp); err != nil {
		return nil, err
	}
	return resp.Issues, nil
}

// Myself fetches the authenticated account, which is the cheapest call that
// proves both reachability and credentials.
func (c *Client) Myself(ctx context.Context) (string, error) {
	var resp struct {
		AccountID   string `json:"accountId"`
		DisplayName string `json:"displayName"`
	}
	if err := c.get(ctx, myselfPath, nil, &resp); err != nil {
		return "", err
	}
	return resp.AccountID, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.Email, c.Token)
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return integration.Connectivity(integration.Jira, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return integration.Connectivity(integration.Jira, path, err)
	}
	if resp.StatusCode >= 400 {
		return integration.Connectivity(integration.Jira, path, decodeError(resp.StatusCode, body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		msgs := append([]string{}, er.ErrorMessages...)
		for field, msg := range er.Errors {
			msgs = append(msgs, field+": "+msg)
		}
		if len(msgs) > 0 {
			return fmt.Errorf("jira api error %d: %s", status, strings.Join(msgs, "; "))
		}
	}
	return fmt.Errorf("jira api error %d: %s", status, strings.TrimSpace(string(body)))
}
