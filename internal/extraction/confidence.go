package extraction

// DefaultConfidenceThreshold is the aggregate score below which a result is
// flagged for human review
const DefaultConfidenceThreshold = 0.7

// Evaluation is the aggregate confidence verdict for an extraction result
type Evaluation struct {
	Score          float64 `json:"score"`
	BelowThreshold bool    `json:"below_threshold"`
}

// Evaluate computes the aggregate confidence for a set of extracted fields
// as the arithmetic mean of per-field confidences. Fields with zero
// confidence still count toward the mean, penalizing incomplete extraction.
// A result with no fields at all scores 0.
//
// A below-threshold score never blocks completion; it only flags the result
// for review downstream.
func Evaluate(fields []Field, threshold float64) Evaluation {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}

	var score float64
	if len(fields) > 0 {
		var sum float64
		for _, f := range fields {
			sum += f.Confidence
		}
		score = sum / float64(len(fields))
	}

	return Evaluation{
		Score:          score,
		BelowThreshold: score < threshold,
	}
}
