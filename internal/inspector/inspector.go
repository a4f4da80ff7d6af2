// Package inspector locates a castable media URL in a page snapshot by trying
// an ordered list of heuristics and stopping at the first hit.
package inspector

import (
	"fmt"

	"go2tv.app/castbrowser/internal/domain"
	"go2tv.app/castbrowser/internal/platforms"
)

// Inspector is stateless between calls and safe for concurrent use.
type Inspector struct {
	catalog    *platforms.Catalog
	strategies []strategy
}

func New(catalog *platforms.Catalog) *Inspector {
	if catalog == nil {
		catalog = platforms.Default()
	}
	return &Inspector{
		catalog:    catalog,
		strategies: defaultStrategies(),
	}
}

// Detect runs the strategies in priority order against snapshot. A Detection
// without a Result is the normal "nothing found" outcome.
func (in *Inspector) Detect(snapshot domain.PageSnapshot) domain.Detection {
	p := &pass{
		snapshot: snapshot,
		catalog:  in.catalog,
	}
	p.tracef("Current URL: %s", snapshot.URL)
	p.tracef("Current hostname: %s", snapshot.Hostname)

	for _, s := range in.strategies {
		c, ok := s.apply(p)
		if !ok {
			continue
		}
		p.tracef("Detected via %s in %s element", c.tag, c.kind)
		trace := p.traceCopy()
		return domain.Detection{
			Result: &domain.DetectionResult{
				URL:               c.url,
				Strategy:          c.tag,
				SourceElementKind: c.kind,
				DebugTrace:        p.traceCopy(),
			},
			Trace: trace,
		}
	}

	p.trace = append(p.trace, "No video source detected")
	return domain.Detection{Trace: p.traceCopy()}
}

// StrategyNames lists the strategies in the order Detect applies them.
func (in *Inspector) StrategyNames() []string {
	names := make([]string, 0, len(in.strategies))
	for _, s := range in.strategies {
		names = append(names, s.name)
	}
	return names
}

type candidate struct {
	url  string
	tag  domain.StrategyTag
	kind string
}

// pass carries the state of one Detect call.
type pass struct {
	snapshot domain.PageSnapshot
	catalog  *platforms.Catalog
	trace    []string
}

func (p *pass) tracef(format string, args ...any) {
	p.trace = append(p.trace, fmt.Sprintf(format, args...))
}

func (p *pass) traceCopy() []string {
	return append([]string(nil), p.trace...)
}
