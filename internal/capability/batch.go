package capability

import "math"

// BatchStatus is the state of one execution record in a batch.
type BatchStatus string

const (
	BatchRunning BatchStatus = "running"
	BatchSuccess BatchStatus = "success"
	BatchFailed  BatchStatus = "failed"
	BatchPartial BatchStatus = "partial"
)

// BatchSummary aggregates the state of a set of execution records.
type BatchSummary struct {
	Status    BatchStatus `json:"status"`
	Progress  int         `json:"progress"`
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Running   int         `json:"running"`
}

// SummarizeBatch folds per-record statuses into one aggregate: running if
// any record still runs, success if all succeeded, failed if all failed,
// otherwise partial. Progress is the rounded percentage of completed
// records. An empty batch reports success at zero progress; callers that
// treat "nothing ran" as a distinct state must check Total.
func SummarizeBatch(statuses []BatchStatus) BatchSummary {
	summary := BatchSummary{Total: len(statuses)}
	for _, s := range statuses {
		switch s {
		case BatchRunning:
			summary.Running++
		case BatchSuccess:
			summary.Succeeded++
		case BatchFailed:
			summary.Failed++
		}
	}

	if summary.Total == 0 {
		summary.Status = BatchSuccess
		return summary
	}

	completed := summary.Succeeded + summary.Failed
	summary.Progress = int(math.Round(100 * float64(completed) / float64(summary.Total)))

	switch {
	case summary.Running > 0:
		summary.Status = BatchRunning
	case summary.Succeeded == summary.Total:
		summary.Status = BatchSuccess
	case summary.Failed == summary.Total:
		summary.Status = BatchFailed
	default:
		summary.Status = BatchPartial
	}
	return summary
}
