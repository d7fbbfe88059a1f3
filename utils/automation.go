package utils

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// AutomationClient posts JSON payloads to the external workflow engine that
// performs the actual SMS transport and AI classification. Every call is
// bounded by Timeout; the caller decides whether a failure is fatal.
type AutomationClient struct {
	URL     string
	Timeout time.Duration

	client *fasthttp.Client
}

func NewAutomationClient(url string, timeout time.Duration) *AutomationClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AutomationClient{
		URL:     url,
		Timeout: timeout,
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
	}
}

// Forward posts the payload and returns the raw response body. Non-2xx
// responses are errors.
func (a *AutomationClient) Forward(payload interface{}) ([]byte, error) {
	if a.URL == "" {
		return nil, fmt.Errorf("automation webhook URL is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(a.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := a.client.DoTimeout(req, resp, a.Timeout); err != nil {
		return nil, fmt.Errorf("automation webhook call failed: %w", err)
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("automation webhook returned status %d", status)
	}

	// The response body is reused after release; copy it out.
	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}
