package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the open file limit below which the bleve index
// starts failing on large corpora.
const MinFileDescriptors = 1024

// CheckFileDescriptors checks the soft open file limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors", Required: true}

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to read the open file limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum %d)", rLimit.Cur, MinFileDescriptors)
	if rLimit.Cur < MinFileDescriptors {
		result.Status = StatusFail
		result.Details = "Run 'ulimit -n 10240'"
		return result
	}
	result.Status = StatusPass
	return result
}
