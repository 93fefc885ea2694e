// Package resolve classifies input identifiers into typed work targets.
package resolve

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// TargetKind distinguishes the two shapes of input the engine accepts
type TargetKind string

const (
	// TargetVideo is a single post (video or image set) addressed by id
	TargetVideo TargetKind = "video"
	// TargetProfile is a user profile requiring enumeration
	TargetProfile TargetKind = "profile"
)

// ErrUnrecognized is returned when an identifier matches no known shape
var ErrUnrecognized = errors.New("unrecognized identifier")

// Target is a classified input identifier
type Target struct {
	Kind TargetKind
	// AwemeID is set for TargetVideo
	AwemeID string
	// SecUID is set for TargetProfile
	SecUID string
	// Raw is the identifier as given
	Raw string
}

var (
	videoURLPattern   = regexp.MustCompile(`douyin\.com/(?:share/)?(?:video|note)/(\d{5,25})`)
	profileURLPattern = regexp.MustCompile(`douyin\.com/(?:share/)?user/([A-Za-z0-9_\-]+)`)
	bareIDPattern     = regexp.MustCompile(`^\d{15,20}$`)
	bareSecUIDPattern = regexp.MustCompile(`^MS4w[A-Za-z0-9_\-]+$`)
)

// Resolve classifies an identifier into a Target. It is pure: short links
// that need a network round trip to expand are not recognized here.
func Resolve(identifier string) (Target, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return Target{}, fmt.Errorf("%w: empty identifier", ErrUnrecognized)
	}

	if m := videoURLPattern.FindStringSubmatch(trimmed); m != nil {
		return Target{Kind: TargetVideo, AwemeID: m[1], Raw: identifier}, nil
	}
	if m := profileURLPattern.FindStringSubmatch(trimmed); m != nil {
		return Target{Kind: TargetProfile, SecUID: m[1], Raw: identifier}, nil
	}
	if bareIDPattern.MatchString(trimmed) {
		return Target{Kind: TargetVideo, AwemeID: trimmed, Raw: identifier}, nil
	}
	if bareSecUIDPattern.MatchString(trimmed) {
		return Target{Kind: TargetProfile, SecUID: trimmed, Raw: identifier}, nil
	}

	return Target{}, fmt.Errorf("%w: %q", ErrUnrecognized, identifier)
}
