package castflow

import (
	"strings"

	"go2tv.app/castbrowser/internal/domain"
)

const noVideoHeadline = "No video content could be detected on this page."

var noVideoTips = []string{
	"Try playing the video first",
	"Make sure the video is visible on the page",
	"Some streaming services may not be supported",
}

// NoVideoMessage renders the text shown to a user when detection finds
// nothing: a headline, the debug trace as bullets, then troubleshooting tips.
func NoVideoMessage(trace []string) string {
	var b strings.Builder
	b.WriteString(noVideoHeadline)
	if len(trace) > 0 {
		b.WriteString("\n\nDebug info:")
		for _, line := range trace {
			b.WriteString("\n• ")
			b.WriteString(line)
		}
	}
	b.WriteString("\n\nTips:")
	for _, tip := range noVideoTips {
		b.WriteString("\n• ")
		b.WriteString(tip)
	}
	return b.String()
}

// NoVideoError wraps NoVideoMessage in a tool error carrying the raw trace.
func NoVideoError(trace []string) *domain.ToolError {
	return &domain.ToolError{
		Code:           CodeNoVideoFound,
		Message:        NoVideoMessage(trace),
		SuggestedFixes: append([]string{}, noVideoTips...),
		Details:        map[string]any{"debug_trace": append([]string{}, trace...)},
	}
}
