package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/Backseating-Committee-2k/test-runner/types"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("test error"),
		},
		{
			name: "error with special chars",
			err:  errors.New("test@error#123"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("test   error"),
		},
		{
			name: "error with multiple underscores",
			err:  errors.New("test__error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			validLabelRegex := regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)
			if !validLabelRegex.MatchString(result) {
				t.Errorf("errLabel() = %v, is not a valid Prometheus label", result)
			}
		})
	}
}

func TestRecordError(t *testing.T) {
	// just test that it doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("RecordError panic'd")
		}
	}()

	RecordError("test_error")
}

func TestRecordErrorDetails(t *testing.T) {
	// Test with nil error
	RecordErrorDetails("test", nil)

	// Test with actual error
	RecordErrorDetails("test", errors.New("sample error"))
}

func TestRecordTest(t *testing.T) {
	// Test individual test recording for both status values
	RecordTest("run1", "tests/test_square_numbers.bs", types.TestStatusPass)
	RecordTest("run1", "tests/test_wrong_type.bs", types.TestStatusFail)

	// Unknown results are dropped, not recorded
	RecordTest("run1", "tests/test_square_numbers.bs", types.TestStatus("skip"))
}

func TestRecordRun(t *testing.T) {
	// Test run scenarios
	RecordRun("run1", "pass", 1, 1, 0, time.Second)
	RecordRun("run1", "fail", 1, 0, 1, time.Second)
}
