package youtube

import (
	"net/url"
	"regexp"
	"strings"
)

// ResourceType classifies a YouTube URL.
type ResourceType int

const (
	ResourceUnknown ResourceType = iota
	ResourceChannel
	ResourceChannelCustom
	ResourceUser
	ResourcePlaylist
	ResourceVideo
)

// Resource is a parsed YouTube URL.
type Resource struct {
	Type ResourceType
	ID   string
}

var (
	channelIDPattern = regexp.MustCompile(`^UC[0-9A-Za-z_-]{22}$`)
	videoIDPattern   = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)
)

func isYouTubeHost(host string) bool {
	host = strings.ToLower(host)
	switch host {
	case "youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be", "www.youtu.be":
		return true
	}
	return false
}

// ParseURL classifies u. Non-YouTube URLs and unrecognized paths are
// ResourceUnknown.
func ParseURL(u *url.URL) Resource {
	if u == nil || !isYouTubeHost(u.Hostname()) {
		return Resource{}
	}
	q := u.Query()
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	if strings.Contains(strings.ToLower(u.Hostname()), "youtu.be") {
		if len(segments) == 1 && videoIDPattern.MatchString(segments[0]) {
			return Resource{Type: ResourceVideo, ID: segments[0]}
		}
		return Resource{}
	}

	switch segments[0] {
	case "watch":
		if v := q.Get("v"); videoIDPattern.MatchString(v) {
			return Resource{Type: ResourceVideo, ID: v}
		}
	case "shorts", "embed", "live":
		if len(segments) == 2 && videoIDPattern.MatchString(segments[1]) {
			return Resource{Type: ResourceVideo, ID: segments[1]}
		}
	case "playlist":
		if list := q.Get("list"); list != "" {
			return Resource{Type: ResourcePlaylist, ID: list}
		}
	case "channel":
		if len(segments) >= 2 && channelIDPattern.MatchString(segments[1]) {
			return Resource{Type: ResourceChannel, ID: segments[1]}
		}
	case "user":
		if len(segments) >= 2 && segments[1] != "" {
			return Resource{Type: ResourceUser, ID: segments[1]}
		}
	case "c":
		if len(segments) >= 2 && segments[1] != "" {
			return Resource{Type: ResourceChannelCustom, ID: segments[1]}
		}
	case "feeds":
		switch {
		case q.Get("channel_id") != "":
			return Resource{Type: ResourceChannel, ID: q.Get("channel_id")}
		case q.Get("playlist_id") != "":
			return Resource{Type: ResourcePlaylist, ID: q.Get("playlist_id")}
		case q.Get("user") != "":
			return Resource{Type: ResourceUser, ID: q.Get("user")}
		}
	default:
		if strings.HasPrefix(segments[0], "@") && len(segments[0]) > 1 {
			return Resource{Type: ResourceChannelCustom, ID: segments[0]}
		}
	}
	return Resource{}
}

// feedKey is the subscription id persisted for a feed resource.
func (r Resource) feedKey() string {
	switch r.Type {
	case ResourceChannel:
		return "channel_id=" + r.ID
	case ResourcePlaylist:
		return "playlist_id=" + r.ID
	case ResourceUser:
		return "user=" + r.ID
	}
	return ""
}

// parseFeedKey reverses feedKey.
func parseFeedKey(key string) (url.Values, bool) {
	name, value, ok := strings.Cut(key, "=")
	if !ok || value == "" {
		return nil, false
	}
	switch name {
	case "channel_id", "playlist_id", "user":
		return url.Values{name: {value}}, true
	}
	return nil, false
}
