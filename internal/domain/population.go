package domain

// Population category labels published by the statistics API.
const (
	LabelTotal      = "総人口"
	LabelYouth      = "年少人口"
	LabelWorkingAge = "生産年齢人口"
	LabelElderly    = "老年人口"
)

// DefaultLabels lists the categories offered for selection, default first.
var DefaultLabels = []string{LabelTotal, LabelYouth, LabelWorkingAge, LabelElderly}

// PopulationPoint is a single yearly observation. Rate is only published for
// the age-bracket categories.
type PopulationPoint struct {
	Year  int      `json:"year"`
	Value float64  `json:"value"`
	Rate  *float64 `json:"rate,omitempty"`
}

// PopulationCategory is one labelled sub-series of a prefecture's population.
type PopulationCategory struct {
	Label  string            `json:"label"`
	Points []PopulationPoint `json:"data"`
}

// PopulationSeries is the composition-per-year payload for one prefecture.
type PopulationSeries struct {
	BoundaryYear int                  `json:"boundaryYear"`
	Categories   []PopulationCategory `json:"data"`
}

// Category returns the points of the category whose label matches exactly.
func (s *PopulationSeries) Category(label string) ([]PopulationPoint, bool) {
	if s == nil {
		return nil, false
	}
	for _, category := range s.Categories {
		if category.Label == label {
			return category.Points, true
		}
	}
	return nil, false
}

// Labels lists the category labels in upstream order.
func (s *PopulationSeries) Labels() []string {
	if s == nil {
		return nil
	}
	labels := make([]string, 0, len(s.Categories))
	for _, category := range s.Categories {
		labels = append(labels, category.Label)
	}
	return labels
}
