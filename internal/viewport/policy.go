package viewport

// Metrics describes the scroll geometry of the message list just before a
// timeline mutation was rendered.
type Metrics struct {
	ScrollTop  float64
	ViewportPx float64
	ContentPx  float64
}

// DistanceFromBottom is how many pixels of content remain below the
// visible area.
func (m Metrics) DistanceFromBottom() float64 {
	d := m.ContentPx - m.ViewportPx - m.ScrollTop
	if d < 0 {
		return 0
	}

	return d
}

// Policy decides whether the view should follow the bottom of the
// timeline after a mutation.
type Policy struct {
	thresholdPx float64
}

func NewPolicy(thresholdPx float64) *Policy {
	return &Policy{thresholdPx: thresholdPx}
}

// ShouldFollow returns true when the view must scroll to the bottom: the
// local participant's own sends always follow; remote mutations follow
// only if the reader was already near the bottom, so reviewing history is
// never interrupted.
func (p *Policy) ShouldFollow(m Metrics, ownMessage bool) bool {
	if ownMessage {
		return true
	}

	return m.DistanceFromBottom() <= p.thresholdPx
}
