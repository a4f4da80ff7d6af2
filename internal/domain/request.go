package domain

type StreamType string

const (
	StreamTypeBuffered StreamType = "BUFFERED"
	StreamTypeLive     StreamType = "LIVE"
)

// ClassifiedRequest is the media-load request handed to a receiver.
type ClassifiedRequest struct {
	ContentID   string     `json:"content_id"`
	ContentType string     `json:"content_type"`
	StreamType  StreamType `json:"stream_type"`
	Title       string     `json:"title"`
	Subtitle    string     `json:"subtitle,omitempty"`
}

func (r ClassifiedRequest) Live() bool {
	return r.StreamType == StreamTypeLive
}
