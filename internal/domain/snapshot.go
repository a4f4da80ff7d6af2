package domain

// MaxScannedElements bounds how many elements a collector visits when it
// gathers attribute values for the generic attribute scan.
const MaxScannedElements = 1000

// PageSnapshot is a read-only view of the media-relevant DOM state of a
// rendered page. Hosts build one per inspection. Only url and hostname are
// required; absent collections mean the page has none.
type PageSnapshot struct {
	URL             string             `json:"url"`
	Hostname        string             `json:"hostname"`
	Title           string             `json:"title,omitempty"`
	Videos          []VideoElement     `json:"videos,omitempty"`
	IFrames         []IFrameElement    `json:"iframes,omitempty"`
	Scripts         []string           `json:"scripts,omitempty"`
	Attributes      []ElementAttribute `json:"attributes,omitempty"`
	ScannedElements int                `json:"scanned_elements,omitempty"`
}

type VideoElement struct {
	CurrentSource   *string  `json:"current_source,omitempty"`
	SourceAttribute *string  `json:"source_attribute,omitempty"`
	ChildSourceURLs []string `json:"child_source_urls,omitempty"`
	IsPlaying       bool     `json:"is_playing,omitempty"`
	CurrentTime     float64  `json:"current_time,omitempty"`
}

type IFrameElement struct {
	Src     *string `json:"src,omitempty"`
	DataSrc *string `json:"data_src,omitempty"`
}

// ElementAttribute is one attribute of one element, in document order.
// Element is the zero-based document-order index of the owning element.
type ElementAttribute struct {
	Element int    `json:"element,omitempty"`
	Tag     string `json:"tag,omitempty"`
	Name    string `json:"name,omitempty"`
	Value   string `json:"value"`
}

// StringPtr returns a pointer to v. Collectors use it for optional fields.
func StringPtr(v string) *string {
	return &v
}

// Deref returns the pointed-to string or "" for nil.
func Deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
