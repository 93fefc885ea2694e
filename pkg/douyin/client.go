package douyin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"douget/pkg/logger"
)

// ErrorType classifies Douyin API failures
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents a Douyin API error
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("douyin %s error (code %d): %s", e.Type, e.Code, e.Message)
}

// IsRetryable reports whether an error of this type is worth retrying
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// Client talks to the Douyin web API
type Client struct {
	httpClient    *http.Client
	harvestClient *http.Client
	headers       map[string]string
	logger        logger.Logger
}

// NewClient creates a new Douyin API client. harvestTimeout bounds the
// slow profile-page harvest independently of per-request timeout.
func NewClient(timeout, harvestTimeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		harvestClient: &http.Client{Timeout: harvestTimeout},
		headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			"Accept":          "application/json, text/plain, */*",
			"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
			"Referer":         BaseURL + "/",
			"Origin":          BaseURL,
		},
		logger: log,
	}
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetCookie installs the credential cookie blob used on every request
func (c *Client) SetCookie(cookie string) {
	if cookie != "" {
		c.headers["Cookie"] = cookie
	}
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(client *http.Client, req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, &Error{
			Type:    ErrorTypeNetwork,
			Message: fmt.Sprintf("network error: %v", err),
			Code:    0,
		}
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// Get performs a GET request to the specified URL
func (c *Client) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, &Error{
			Type:    ErrorTypeUnknown,
			Message: fmt.Sprintf("failed to create request: %v", err),
			Code:    0,
		}
	}
	return c.doRequest(c.httpClient, req)
}

// GetJSON performs a GET request and decodes the JSON response
func (c *Client) GetJSON(url string, target interface{}) error {
	resp, err := c.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{
			Type:    ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read response body: %v", err),
			Code:    resp.StatusCode,
		}
	}

	if err := json.Unmarshal(body, target); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          url,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": bodyPreview,
		})
		return &Error{
			Type:    ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse JSON: %v", err),
			Code:    resp.StatusCode,
		}
	}

	return nil
}

// checkResponseStatus maps HTTP status codes to typed errors
func (c *Client) checkResponseStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{
			Type:    ErrorTypeAuth,
			Message: "authentication required, refresh your cookie",
			Code:    resp.StatusCode,
		}
	case http.StatusNotFound:
		return &Error{
			Type:    ErrorTypeNotFound,
			Message: "resource not found",
			Code:    resp.StatusCode,
		}
	case http.StatusTooManyRequests:
		return &Error{
			Type:    ErrorTypeRateLimit,
			Message: "rate limit exceeded",
			Code:    resp.StatusCode,
		}
	default:
		if resp.StatusCode >= 500 {
			return &Error{
				Type:    ErrorTypeServerError,
				Message: "server error",
				Code:    resp.StatusCode,
			}
		}
		if resp.StatusCode >= 400 {
			return &Error{
				Type:    ErrorTypeUnknown,
				Message: fmt.Sprintf("unexpected status code: %d", resp.StatusCode),
				Code:    resp.StatusCode,
			}
		}
		return nil
	}
}

// FetchUserProfile fetches the profile metadata for a sec-uid
func (c *Client) FetchUserProfile(secUID string) (*User, error) {
	var response UserResponse
	if err := c.GetJSON(GetUserProfileURL(secUID), &response); err != nil {
		return nil, err
	}
	if response.User.SecUID == "" && response.User.UID == "" {
		return nil, &Error{
			Type:    ErrorTypeAuth,
			Message: "empty profile payload, authentication likely required",
			Code:    http.StatusOK,
		}
	}
	return &response.User, nil
}

// FetchUserPosts fetches one page of a user's works listing
func (c *Client) FetchUserPosts(secUID string, cursor int64) (*PostPage, error) {
	var page PostPage
	if err := c.GetJSON(GetUserPostURL(secUID, cursor), &page); err != nil {
		return nil, err
	}
	if page.NotLoginModule != nil && page.NotLoginModule.GuideLoginTipExist {
		c.logger.WarnWithFields("login tip in listing response, pagination may be restricted", map[string]interface{}{
			"sec_uid": secUID,
			"cursor":  cursor,
		})
	}
	return &page, nil
}

// FetchAwemeDetail fetches a single work by id
func (c *Client) FetchAwemeDetail(awemeID string) (*Aweme, error) {
	var response DetailResponse
	if err := c.GetJSON(GetDetailURL(awemeID), &response); err != nil {
		return nil, err
	}
	if response.AwemeDetail == nil {
		return nil, &Error{
			Type:    ErrorTypeNotFound,
			Message: fmt.Sprintf("no detail for aweme %s", awemeID),
			Code:    http.StatusOK,
		}
	}
	return response.AwemeDetail, nil
}

// DownloadMedia downloads a media file from the given URL
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", mediaURL, nil)
	if err != nil {
		return nil, &Error{
			Type:    ErrorTypeUnknown,
			Message: fmt.Sprintf("failed to create request: %v", err),
			Code:    0,
		}
	}

	resp, err := c.doRequest(c.httpClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{
			Type:    ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read media body: %v", err),
			Code:    0,
		}
	}

	c.logger.DebugWithFields("media downloaded", map[string]interface{}{
		"url":  mediaURL,
		"size": len(data),
	})

	return data, nil
}
