package domain

// MediaKind selects the class of content a channel surfaces.
type MediaKind string

const (
	MediaImages     MediaKind = "images"
	MediaMusic      MediaKind = "music"
	MediaVideos     MediaKind = "videos"
	MediaWebsites   MediaKind = "websites"
	MediaText       MediaKind = "text"
	MediaEverything MediaKind = "everything"
)

// Recency biases window placement: "new" walks backwards from the chain tip,
// "old" samples random historical windows.
type Recency string

const (
	RecencyNew Recency = "new"
	RecencyOld Recency = "old"
)

// Channel is an immutable filter describing what the discovery queue looks
// for. Comparable by value; a changed Channel always re-initializes the queue.
type Channel struct {
	Media        MediaKind `json:"media"`
	Recency      Recency   `json:"recency"`
	OwnerAddress string    `json:"owner_address,omitempty"`
	AppName      string    `json:"app_name,omitempty"`
}

// ContentTypes returns the Content-Type tag values queried for a media kind.
// Nil means no Content-Type constraint (everything).
func (m MediaKind) ContentTypes() []string {
	switch m {
	case MediaImages:
		return []string{"image/png", "image/jpeg", "image/gif", "image/webp", "image/svg+xml"}
	case MediaMusic:
		return []string{"audio/mpeg", "audio/ogg", "audio/wav", "audio/flac", "audio/mp4"}
	case MediaVideos:
		return []string{"video/mp4", "video/webm", "video/ogg", "video/quicktime"}
	case MediaWebsites:
		return []string{"text/html", "application/xhtml+xml"}
	case MediaText:
		return []string{"text/plain", "text/markdown", "application/pdf"}
	default:
		return nil
	}
}

// Valid reports whether the media kind is one of the known values.
func (m MediaKind) Valid() bool {
	switch m {
	case MediaImages, MediaMusic, MediaVideos, MediaWebsites, MediaText, MediaEverything:
		return true
	}
	return false
}
