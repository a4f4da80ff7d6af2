package domain

type CastRequest struct {
	PageURL      string `json:"page_url,omitempty"`
	MediaURL     string `json:"media_url,omitempty"`
	TargetDevice string `json:"target_device"`
	Title        string `json:"title,omitempty"`
}

// SessionHandle identifies media playing on a receiver.
type SessionHandle struct {
	SessionID   string     `json:"session_id"`
	DeviceID    string     `json:"device_id"`
	DeviceName  string     `json:"device_name"`
	ContentID   string     `json:"content_id"`
	ContentType string     `json:"content_type"`
	StreamType  StreamType `json:"stream_type"`
}

type CastResult struct {
	OK        bool              `json:"ok"`
	Session   SessionHandle     `json:"session"`
	Detection *DetectionResult  `json:"detection,omitempty"`
	Request   ClassifiedRequest `json:"request"`
}

type StopRequest struct {
	TargetDevice string `json:"target_device,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

type StopResult struct {
	OK               bool   `json:"ok"`
	StoppedSessionID string `json:"stopped_session_id"`
	DeviceID         string `json:"device_id"`
}

type ToolError struct {
	Code           string         `json:"code"`
	Message        string         `json:"message"`
	Limitations    []Limitation   `json:"limitations,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	Err            error          `json:"-"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
