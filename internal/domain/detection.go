package domain

// StrategyTag names the heuristic that produced a detection.
type StrategyTag string

const (
	StrategyVideoCurrentSrcActive  StrategyTag = "video-currentSrc-active"
	StrategyVideoCurrentSrc        StrategyTag = "video-currentSrc"
	StrategyVideoSrc               StrategyTag = "video-src"
	StrategyVideoSource            StrategyTag = "video-source"
	StrategyPlatformURL            StrategyTag = "platform-url"
	StrategyIFrameEmbed            StrategyTag = "iframe-embed"
	StrategyIFrameDataSrc          StrategyTag = "iframe-data-src"
	StrategyIFrameCustomStream     StrategyTag = "iframe-custom-stream"
	StrategyIFrameCustomStreamData StrategyTag = "iframe-custom-stream-data"
	StrategyScriptContent          StrategyTag = "script-content"
	StrategyDataAttribute          StrategyTag = "data-attribute"
	StrategyDirectVideoURL         StrategyTag = "direct-video-url"
)

// DetectionResult is the single media URL found on a page.
type DetectionResult struct {
	URL               string      `json:"url"`
	Strategy          StrategyTag `json:"strategy"`
	SourceElementKind string      `json:"source_element_kind"`
	DebugTrace        []string    `json:"debug_trace"`
}

// Detection is the outcome of one inspection. A nil Result is a normal
// negative outcome; Trace is populated either way.
type Detection struct {
	Result *DetectionResult `json:"result,omitempty"`
	Trace  []string         `json:"trace"`
}

func (d Detection) Found() bool {
	return d.Result != nil
}
