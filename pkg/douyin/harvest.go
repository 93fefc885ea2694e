package douyin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
)

var (
	harvestIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"aweme_id"\s*:\s*"(\d{15,20})"`),
		regexp.MustCompile(`/video/(\d{15,20})`),
		regexp.MustCompile(`/note/(\d{15,20})`),
	}
)

// HarvestPostIDs scrapes the user's public profile page for work ids.
// It is the slow enumeration path used when the listing API under-reports;
// it only yields ids, callers recover details per id. expected caps the
// result size when positive.
func (c *Client) HarvestPostIDs(ctx context.Context, secUID string, expected int) ([]string, error) {
	pageURL := GetUserWebURL(secUID)

	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, &Error{
			Type:    ErrorTypeUnknown,
			Message: fmt.Sprintf("failed to create harvest request: %v", err),
			Code:    0,
		}
	}
	// The profile page serves HTML, not the API content type.
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.doRequest(c.harvestClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{
			Type:    ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read profile page: %v", err),
			Code:    0,
		}
	}

	ids := extractWorkIDs(body, expected)

	c.logger.InfoWithFields("harvested work ids from profile page", map[string]interface{}{
		"sec_uid": secUID,
		"count":   len(ids),
	})

	return ids, nil
}

// extractWorkIDs pulls work ids out of profile page markup, deduplicated
// in first-seen order. limit caps the result when positive.
func extractWorkIDs(body []byte, limit int) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, pattern := range harvestIDPatterns {
		for _, match := range pattern.FindAllSubmatch(body, -1) {
			id := string(match[1])
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
			if limit > 0 && len(ids) >= limit {
				return ids
			}
		}
	}
	return ids
}
