package signal

// Subtype names a frustration pattern.
type Subtype string

const (
	SubtypeRageClick   Subtype = "rage_click"
	SubtypeRapidClicks Subtype = "rapid_clicks"
	SubtypePageReload  Subtype = "page_reload"
)

// FrustrationDetail is the closed set of frustration payloads.
type FrustrationDetail interface {
	Subtype() Subtype
	fill(data map[string]any)
}

// RageClick is a burst of clicks on one spot of one element.
type RageClick struct {
	Selector string `json:"selector"`
	Count    int    `json:"count"`
}

// RapidClicks is a burst of clicks anywhere on the page.
type RapidClicks struct {
	Count int `json:"count"`
}

// PageReload is emitted once when a page load was a reload.
type PageReload struct{}

func (RageClick) Subtype() Subtype   { return SubtypeRageClick }
func (RapidClicks) Subtype() Subtype { return SubtypeRapidClicks }
func (PageReload) Subtype() Subtype  { return SubtypePageReload }

func (d RageClick) fill(data map[string]any) {
	data["selector"] = d.Selector
	data["count"] = d.Count
}

func (d RapidClicks) fill(data map[string]any) {
	data["count"] = d.Count
}

func (PageReload) fill(map[string]any) {}
