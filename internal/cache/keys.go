package cache

import "fmt"

// AnalysisKey caches the style analysis of a completed job's result.
func AnalysisKey(jobID int64) string {
	return fmt.Sprintf("analysis:%d", jobID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:upload:%s", client)
}
