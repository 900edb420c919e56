package lt

import "fmt"

// Status is the native status code reported by the underlying library.
// Values follow cublasStatus_t.
type Status int

const (
	StatusSuccess          Status = 0
	StatusNotInitialized   Status = 1
	StatusAllocFailed      Status = 3
	StatusInvalidValue     Status = 7
	StatusArchMismatch     Status = 8
	StatusMappingError     Status = 11
	StatusExecutionFailed  Status = 13
	StatusInternalError    Status = 14
	StatusNotSupported     Status = 15
	StatusLicenseError     Status = 16
	StatusInsufficientWork Status = 17
)

func (s Status) Error() string {
	return s.String()
}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "CUBLAS_STATUS_SUCCESS"
	case StatusNotInitialized:
		return "CUBLAS_STATUS_NOT_INITIALIZED"
	case StatusAllocFailed:
		return "CUBLAS_STATUS_ALLOC_FAILED"
	case StatusInvalidValue:
		return "CUBLAS_STATUS_INVALID_VALUE"
	case StatusArchMismatch:
		return "CUBLAS_STATUS_ARCH_MISMATCH"
	case StatusMappingError:
		return "CUBLAS_STATUS_MAPPING_ERROR"
	case StatusExecutionFailed:
		return "CUBLAS_STATUS_EXECUTION_FAILED"
	case StatusInternalError:
		return "CUBLAS_STATUS_INTERNAL_ERROR"
	case StatusNotSupported:
		return "CUBLAS_STATUS_NOT_SUPPORTED"
	case StatusLicenseError:
		return "CUBLAS_STATUS_LICENSE_ERROR"
	case StatusInsufficientWork:
		return "CUBLAS_STATUS_INSUFFICIENT_WORKSPACE"
	default:
		return fmt.Sprintf("CUBLAS_STATUS(%d)", int(s))
	}
}
