package drift

import "github.com/sawpanic/scouter/internal/profile"

// EvaluateCustom averages a metric's recent values and applies its alert
// condition against the baseline. Returns (mean, alert); an empty series
// never alerts.
func EvaluateCustom(values []float64, metric profile.CustomMetric) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	return mean, metric.Condition.ShouldAlert(metric.BaselineValue, mean)
}
