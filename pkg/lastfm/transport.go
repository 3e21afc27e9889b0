package lastfm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

var validate = validator.New(validator.WithRequiredStructEnabled())

// apiErrorBody is the error envelope Last.fm returns on failure.
type apiErrorBody struct {
	Error   *int   `json:"error"`
	Message string `json:"message"`
}

// get performs one GET request for a read-only API method and decodes the
// JSON body into out, which is then validated.
//
// There is no retry here; callers own their retry policy.
func (c *Client) get(ctx context.Context, method string, params url.Values, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	query.Set("method", method)
	query.Set("api_key", c.apiKey)
	query.Set("format", "json")

	reqURL := c.baseURL + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	c.logDebugf("lastfm: calling %s", method)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		httpErr := &HTTPError{StatusCode: resp.StatusCode}
		var apiErr apiErrorBody
		if json.Unmarshal(body, &apiErr) == nil {
			httpErr.Message = apiErr.Message
		}
		c.logDebugf("lastfm: %s failed with status %d", method, resp.StatusCode)
		return httpErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var apiErr apiErrorBody
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return fmt.Errorf("%w: Failed to parse JSON: %v", ErrMalformedResponse, err)
	}
	if apiErr.Error != nil {
		return &Error{Code: *apiErr.Error, Message: apiErr.Message}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: Invalid JSON structure: %v", ErrMalformedResponse, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: Invalid JSON structure: %v", ErrMalformedResponse, err)
	}

	c.logDebugf("lastfm: %s succeeded", method)
	return nil
}
