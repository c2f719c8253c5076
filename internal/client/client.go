package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a small REST client for the report service.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// New constructs a Client for the given server base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: trimTrailingSlash(baseURL),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Token returns the bearer token from the last successful login.
func (c *Client) Token() string {
	return c.token
}

// SetToken installs a bearer token directly, bypassing login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.StatusCode, e.Message)
}

// User is the account shape returned by auth endpoints.
type User struct {
	ID       uint64 `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

type authResponse struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// Register creates an account and stores the returned token.
func (c *Client) Register(ctx context.Context, email, password, fullName string) (*User, error) {
	var out authResponse
	errDo := c.do(ctx, http.MethodPost, "/auth/register", map[string]string{
		"email":    email,
		"password": password,
		"fullName": fullName,
	}, &out)
	if errDo != nil {
		return nil, errDo
	}
	c.token = out.Token
	return &out.User, nil
}

// Login authenticates and stores the returned token.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var out authResponse
	errDo := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if errDo != nil {
		return nil, errDo
	}
	c.token = out.Token
	return &out.User, nil
}

// CreateReportInput describes the company a report is requested for.
type CreateReportInput struct {
	TaxID       string `json:"taxId,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	CompanyID   string `json:"companyId,omitempty"`
}

// CreatedReport is the answer to a report request.
type CreatedReport struct {
	ReportID  string `json:"reportId"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

// CreateReport requests a new report.
func (c *Client) CreateReport(ctx context.Context, input CreateReportInput) (*CreatedReport, error) {
	var out CreatedReport
	if errDo := c.do(ctx, http.MethodPost, "/reports", input, &out); errDo != nil {
		return nil, errDo
	}
	return &out, nil
}

// Report is the full report shape returned by the detail endpoint.
type Report struct {
	ReportID     string          `json:"reportId"`
	Status       string          `json:"status"`
	CompanyName  string          `json:"companyName"`
	TaxID        string          `json:"taxId"`
	CreatedAt    string          `json:"createdAt"`
	CompletedAt  *string         `json:"completedAt"`
	Payload      json.RawMessage `json:"payload"`
	ErrorMessage string          `json:"errorMessage"`
}

// GetReport fetches one report by id.
func (c *Client) GetReport(ctx context.Context, reportID string) (*Report, error) {
	var out Report
	if errDo := c.do(ctx, http.MethodGet, "/reports/"+reportID, nil, &out); errDo != nil {
		return nil, errDo
	}
	return &out, nil
}

// do sends one request and decodes the JSON answer. Non-2xx answers come
// back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, errEncode := json.Marshal(body)
		if errEncode != nil {
			return fmt.Errorf("client: encode request: %w", errEncode)
		}
		reader = bytes.NewReader(encoded)
	}

	req, errReq := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if errReq != nil {
		return fmt.Errorf("client: build request: %w", errReq)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, errDo := c.http.Do(req)
	if errDo != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, errRead := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if errRead != nil {
		return fmt.Errorf("client: read response: %w", errRead)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
		var decoded struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &decoded) == nil && decoded.Error != "" {
			apiErr.Message = decoded.Error
		}
		return apiErr
	}

	if out != nil {
		if errDecode := json.Unmarshal(raw, out); errDecode != nil {
			return fmt.Errorf("client: decode response: %w", errDecode)
		}
	}
	return nil
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
