package types

// InputType tells whether a record was computed from numbers or from text.
type InputType string

const (
	InputNumber InputType = "number"
	InputText   InputType = "text"
)

// Run is one forward+reverse evaluation. Text input may be evaluated several
// times in a row; later runs see the fallback memory left by earlier ones.
type Run struct {
	Run         int     `json:"run"`
	NBMax       float64 `json:"nb_max"`
	NBMin       float64 `json:"nb_min"`
	Difference  float64 `json:"difference"`
	MaxFallback bool    `json:"max_fallback,omitempty"`
	MinFallback bool    `json:"min_fallback,omitempty"`
}

// Record is the persisted result artifact. The same bytes are written under the
// max root (keyed by NBMax) and the min root (keyed by NBMin).
type Record struct {
	ID         string    `json:"id"`
	Timestamp  string    `json:"timestamp"`
	Type       InputType `json:"type"`
	Input      string    `json:"input"`
	Sequence   []float64 `json:"sequence"`
	Unicode    []float64 `json:"unicode,omitempty"` // text only: plain code points
	Bound      float64   `json:"bound"`
	Category   string    `json:"category,omitempty"`
	NBMax      float64   `json:"nb_max"`
	NBMin      float64   `json:"nb_min"`
	Difference float64   `json:"difference"`
	Results    []Run     `json:"results"`
	ViewCount  int       `json:"view_count"`
	LastViewed string    `json:"last_viewed,omitempty"`
}

// Location is where a record's two leaves live on disk.
type Location struct {
	MaxPath string `json:"max_path"`
	MinPath string `json:"min_path"`
}

// Stats are the running totals kept by the index.
type Stats struct {
	TotalCalculations int `json:"total_calculations"`
	TotalMaxResults   int `json:"total_max_results"`
	TotalMinResults   int `json:"total_min_results"`
}
