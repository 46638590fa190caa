package evaluation

// OptionStats holds per-option classification figures.
type OptionStats struct {
	Option    string  `json:"option"`
	Support   int     `json:"support"`   // gold count
	Predicted int     `json:"predicted"` // predicted count
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// Report summarises predictions against gold labels.
type Report struct {
	Total    int           `json:"total"`
	Correct  int           `json:"correct"`
	Accuracy float64       `json:"accuracy"`
	Options  []OptionStats `json:"options"`

	// Confusion[g][p] counts records with gold option g+1 predicted as p+1.
	Confusion [3][3]int `json:"confusion"`

	// Unscored counts records whose gold label is outside 1..3.
	Unscored int `json:"unscored,omitempty"`
}
