package douyin

// PostPage is one page of a user's works listing
type PostPage struct {
	StatusCode     int             `json:"status_code"`
	AwemeList      []Aweme         `json:"aweme_list"`
	HasMore        int             `json:"has_more"`
	MaxCursor      int64           `json:"max_cursor"`
	NotLoginModule *NotLoginModule `json:"not_login_module,omitempty"`
}

// NotLoginModule is set when the platform wants the caller to log in
type NotLoginModule struct {
	GuideLoginTipExist bool `json:"guide_login_tip_exist"`
}

// UserResponse wraps the profile endpoint payload
type UserResponse struct {
	StatusCode int  `json:"status_code"`
	User       User `json:"user"`
}

// User holds the profile metadata the engine cares about
type User struct {
	UID        string `json:"uid"`
	SecUID     string `json:"sec_uid"`
	Nickname   string `json:"nickname"`
	AwemeCount int    `json:"aweme_count"`
}

// DetailResponse wraps the single-work detail endpoint payload
type DetailResponse struct {
	StatusCode  int    `json:"status_code"`
	AwemeDetail *Aweme `json:"aweme_detail"`
}

// Aweme is one work as the platform reports it
type Aweme struct {
	AwemeID       string         `json:"aweme_id"`
	Desc          string         `json:"desc"`
	CreateTime    int64          `json:"create_time"`
	Author        Author         `json:"author"`
	Video         Video          `json:"video"`
	Music         Music          `json:"music"`
	ImagePostInfo *ImagePostInfo `json:"image_post_info,omitempty"`
	Images        []Image        `json:"images,omitempty"`
	TextExtra     []TextExtra    `json:"text_extra,omitempty"`
}

// Author identifies the work's creator
type Author struct {
	UID      string `json:"uid"`
	SecUID   string `json:"sec_uid"`
	Nickname string `json:"nickname"`
}

// Video holds the playable addresses of a video work
type Video struct {
	PlayAddr URLContainer `json:"play_addr"`
	Cover    URLContainer `json:"cover"`
	Vid      string       `json:"vid"`
}

// Music is the background track of a work
type Music struct {
	Title   string       `json:"title"`
	PlayURL URLContainer `json:"play_url"`
}

// ImagePostInfo marks a work as an image set
type ImagePostInfo struct {
	Images []Image `json:"images"`
}

// Image is a single image of an image-set work
type Image struct {
	URLList []string `json:"url_list"`
}

// URLContainer is the platform's url_list wrapper
type URLContainer struct {
	URI     string   `json:"uri"`
	URLList []string `json:"url_list"`
}

// First returns the first usable URL of the container, or ""
func (u URLContainer) First() string {
	for _, candidate := range u.URLList {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// TextExtra carries hashtag annotations of a description
type TextExtra struct {
	HashtagName string `json:"hashtag_name"`
}

// IsGallery reports whether the work is an image set rather than a video
func (a *Aweme) IsGallery() bool {
	if a.ImagePostInfo != nil && len(a.ImagePostInfo.Images) > 0 {
		return true
	}
	return len(a.Images) > 0
}

// GalleryImages returns the image list regardless of which field carries it
func (a *Aweme) GalleryImages() []Image {
	if a.ImagePostInfo != nil && len(a.ImagePostInfo.Images) > 0 {
		return a.ImagePostInfo.Images
	}
	return a.Images
}
