package douyin

import (
	"reflect"
	"testing"
)

func TestVideoPlayURLPrefersUnwatermarked(t *testing.T) {
	aweme := &Aweme{
		Video: Video{
			PlayAddr: URLContainer{URLList: []string{
				"https://v.example.com/play?watermark=1",
				"https://v.example.com/play?watermark=0",
			}},
		},
	}
	got := aweme.VideoPlayURL()
	if got != "https://v.example.com/play?watermark=0" {
		t.Errorf("VideoPlayURL = %q, want the watermark=0 candidate", got)
	}
}

func TestVideoPlayURLFallsBackToFirst(t *testing.T) {
	aweme := &Aweme{
		Video: Video{
			PlayAddr: URLContainer{URLList: []string{
				"",
				"https://v.example.com/a",
				"https://v.example.com/b",
			}},
		},
	}
	if got := aweme.VideoPlayURL(); got != "https://v.example.com/a" {
		t.Errorf("VideoPlayURL = %q, want first non-empty candidate", got)
	}

	empty := &Aweme{}
	if got := empty.VideoPlayURL(); got != "" {
		t.Errorf("VideoPlayURL on empty work = %q, want empty", got)
	}
}

func TestMediaRefsVideo(t *testing.T) {
	aweme := &Aweme{
		Video: Video{
			PlayAddr: URLContainer{URLList: []string{"https://v.example.com/play.mp4"}},
			Cover:    URLContainer{URLList: []string{"https://p.example.com/cover.jpeg"}},
		},
	}

	refs := aweme.MediaRefs(false, false)
	if len(refs) != 1 {
		t.Fatalf("refs = %v, want single video ref", refs)
	}
	if refs[0].Ext != ".mp4" || refs[0].Optional {
		t.Errorf("video ref = %+v", refs[0])
	}

	withCover := aweme.MediaRefs(true, false)
	if len(withCover) != 2 {
		t.Fatalf("refs with cover = %v, want 2", withCover)
	}
	if !withCover[1].Optional {
		t.Error("cover ref should be optional")
	}
	if withCover[1].Ext != ".jpeg" {
		t.Errorf("cover ext = %q", withCover[1].Ext)
	}
}

func TestMediaRefsGallery(t *testing.T) {
	aweme := &Aweme{
		Images: []Image{
			{URLList: []string{"https://p.example.com/1.webp"}},
			{URLList: []string{}}, // unusable image skipped
			{URLList: []string{"https://p.example.com/3.png"}},
		},
	}

	refs := aweme.MediaRefs(true, false)
	if len(refs) != 2 {
		t.Fatalf("refs = %v, want 2", refs)
	}
	if refs[0].URL != "https://p.example.com/1.webp" || refs[0].Ext != ".webp" {
		t.Errorf("first ref = %+v", refs[0])
	}
	if refs[1].Ext != ".png" {
		t.Errorf("second ref = %+v", refs[1])
	}
	for _, ref := range refs {
		if ref.Optional {
			t.Error("gallery images are never optional")
		}
	}
}

func TestMediaRefsEmptyWork(t *testing.T) {
	if refs := (&Aweme{}).MediaRefs(true, true); refs != nil {
		t.Errorf("refs = %v, want nil for work with no sources", refs)
	}
}

func TestMediaRefsMusic(t *testing.T) {
	aweme := &Aweme{
		Video: Video{
			PlayAddr: URLContainer{URLList: []string{"https://v.example.com/play.mp4"}},
		},
		Music: Music{
			Title:   "bgm",
			PlayURL: URLContainer{URLList: []string{"https://m.example.com/track"}},
		},
	}

	// Disabled by default
	if refs := aweme.MediaRefs(false, false); len(refs) != 1 {
		t.Fatalf("refs without music = %v, want video only", refs)
	}

	refs := aweme.MediaRefs(false, true)
	if len(refs) != 2 {
		t.Fatalf("refs = %v, want video plus music", refs)
	}
	music := refs[1]
	if music.Ext != ".mp3" {
		t.Errorf("music ext = %q, want .mp3 fallback", music.Ext)
	}
	if !music.Optional {
		t.Error("music ref should be optional")
	}
}

func TestMediaRefsMusicOnGallery(t *testing.T) {
	aweme := &Aweme{
		Images: []Image{{URLList: []string{"https://p.example.com/1.jpg"}}},
		Music: Music{
			PlayURL: URLContainer{URLList: []string{"https://m.example.com/track.m4a"}},
		},
	}

	refs := aweme.MediaRefs(false, true)
	if len(refs) != 2 {
		t.Fatalf("refs = %v, want image plus music", refs)
	}
	if refs[1].Ext != ".m4a" || !refs[1].Optional {
		t.Errorf("music ref = %+v", refs[1])
	}
}

func TestMediaRefsMusicMissingTrack(t *testing.T) {
	aweme := &Aweme{
		Video: Video{
			PlayAddr: URLContainer{URLList: []string{"https://v.example.com/play.mp4"}},
		},
	}
	if refs := aweme.MediaRefs(false, true); len(refs) != 1 {
		t.Errorf("refs = %v, want video only when the work has no track", refs)
	}
}

func TestIsGalleryPrefersImagePostInfo(t *testing.T) {
	viaInfo := &Aweme{ImagePostInfo: &ImagePostInfo{Images: []Image{{URLList: []string{"u"}}}}}
	if !viaInfo.IsGallery() {
		t.Error("image_post_info should mark a gallery")
	}
	viaImages := &Aweme{Images: []Image{{URLList: []string{"u"}}}}
	if !viaImages.IsGallery() {
		t.Error("images field should mark a gallery")
	}
	if (&Aweme{}).IsGallery() {
		t.Error("plain video is not a gallery")
	}
}

func TestTags(t *testing.T) {
	aweme := &Aweme{
		Desc: "sunset at the beach #travel #sunset #travel",
		TextExtra: []TextExtra{
			{HashtagName: "sunset"},
			{HashtagName: "beachlife"},
			{HashtagName: ""},
		},
	}

	got := aweme.Tags()
	want := []string{"sunset", "beachlife", "travel"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tags = %v, want %v", got, want)
	}
}

func TestTagsEmpty(t *testing.T) {
	if got := (&Aweme{Desc: "no tags here"}).Tags(); got != nil {
		t.Errorf("Tags = %v, want nil", got)
	}
}

func TestExtFromURL(t *testing.T) {
	tests := []struct {
		url      string
		fallback string
		want     string
	}{
		{"https://p.example.com/a.JPG", ".jpg", ".jpg"},
		{"https://p.example.com/a.webp?x-signature=abc", ".jpg", ".webp"},
		{"https://p.example.com/a.png#frag", ".jpg", ".png"},
		{"https://p.example.com/noext", ".jpg", ".jpg"},
		{"https://p.example.com/weird.longext", ".jpg", ".jpg"},
	}
	for _, tt := range tests {
		if got := extFromURL(tt.url, tt.fallback); got != tt.want {
			t.Errorf("extFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
