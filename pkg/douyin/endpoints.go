package douyin

import (
	"fmt"
	"net/url"
)

const (
	// BaseURL is the Douyin web base URL
	BaseURL = "https://www.douyin.com"

	// pageSize is how many works one listing page requests
	pageSize = 20
)

// GetUserProfileURL returns the endpoint for a user's profile metadata
func GetUserProfileURL(secUID string) string {
	return fmt.Sprintf("%s/aweme/v1/web/user/profile/other/?sec_user_id=%s", BaseURL, url.QueryEscape(secUID))
}

// GetUserPostURL returns one page of a user's works listing
func GetUserPostURL(secUID string, cursor int64) string {
	return fmt.Sprintf("%s/aweme/v1/web/aweme/post/?sec_user_id=%s&max_cursor=%d&count=%d",
		BaseURL, url.QueryEscape(secUID), cursor, pageSize)
}

// GetDetailURL returns the endpoint for a single work's detail
func GetDetailURL(awemeID string) string {
	return fmt.Sprintf("%s/aweme/v1/web/aweme/detail/?aweme_id=%s", BaseURL, url.QueryEscape(awemeID))
}

// GetUserWebURL returns the user's public profile page, used by the
// harvest fallback when the listing API under-reports
func GetUserWebURL(secUID string) string {
	return fmt.Sprintf("%s/user/%s", BaseURL, url.QueryEscape(secUID))
}
