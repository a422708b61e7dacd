package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestConvError_Error(t *testing.T) {
	err := New(ErrCategorySchema, CodeTableMissing, "table SCHED_EVENTS not present")
	expected := "[SCHEMA:TABLE_MISSING] table SCHED_EVENTS not present"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestConvError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("file is not a database")
	err := Wrap(ErrCategoryExport, CodeInvalidExport, "open export", cause)
	expected := "[EXPORT:INVALID_EXPORT] open export: file is not a database"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestConvError_Unwrap(t *testing.T) {
	err := NewExtractError("scan kernel rows", context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestConvError_Is(t *testing.T) {
	err1 := New(ErrCategorySchema, CodeColumnsMissing, "first")
	err2 := New(ErrCategorySchema, CodeColumnsMissing, "second")
	err3 := New(ErrCategorySchema, CodeTableMissing, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
	wrapped := fmt.Errorf("kernel: %w", err1)
	if !errors.Is(wrapped, err2) {
		t.Error("Is should see through fmt wrapping")
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		code     string
		fatal    bool
	}{
		{ErrCategoryExport, CodeNotFound, true},
		{ErrCategoryExport, CodeInvalidExport, true},
		{ErrCategoryExport, CodeUnsupportedVersion, true},
		{ErrCategorySchema, CodeTableMissing, false},
		{ErrCategorySchema, CodeColumnsMissing, false},
		{ErrCategorySchema, CodeTypeMismatch, false},
		{ErrCategoryExtract, CodeExtractFailed, false},
		{ErrCategoryEmit, CodeWriteFailed, true},
		{ErrCategoryEmit, CodeEncodeFailed, true},
		{ErrCategoryStorage, CodeUploadFailed, false},
		{ErrCategoryConfig, CodeInvalidConfig, true},
		{ErrCategoryInternal, CodeUnexpected, true},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsFatal(err) != tt.fatal {
			t.Errorf("%s:%s fatal=%v, want %v", tt.category, tt.code, IsFatal(err), tt.fatal)
		}
	}

	if IsFatal(nil) {
		t.Error("nil should not be fatal")
	}
	if !IsFatal(fmt.Errorf("plain error")) {
		t.Error("unclassified errors should be fatal")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewStorageError(CodeUploadFailed, "s3 down", nil)) {
		t.Error("upload failures should be retryable")
	}
	if IsRetryable(NewStorageError(CodeObjectNotFound, "gone", nil)) {
		t.Error("missing objects should not be retryable")
	}
	if IsRetryable(NewEmitError(CodeWriteFailed, "disk full", nil)) {
		t.Error("emit errors should not be retryable")
	}
}

func TestGetCategory(t *testing.T) {
	err := NewSchemaError(CodeTypeMismatch, "start is TEXT")
	if GetCategory(err) != ErrCategorySchema {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategorySchema)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-ConvError should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := NewSchemaError(CodeTypeMismatch, "start is TEXT")
	if GetCode(err) != CodeTypeMismatch {
		t.Errorf("got %q, want %q", GetCode(err), CodeTypeMismatch)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-ConvError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := NewSchemaError(CodeColumnsMissing, "missing columns")
	detailed := err.WithDetails(map[string]interface{}{"table": "OSRT_API"})

	if detailed.Details["table"] != "OSRT_API" {
		t.Error("WithDetails should set details")
	}
	// Original should be unmodified
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
	if detailed.Fatal != err.Fatal {
		t.Error("WithDetails should keep classification")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	x := NewExportError(CodeNotFound, "no such file", cause)
	if x.Category != ErrCategoryExport || !x.Fatal || !errors.Is(x, cause) {
		t.Error("NewExportError mismatch")
	}

	s := NewSchemaError(CodeTableMissing, "absent")
	if s.Category != ErrCategorySchema || s.Fatal {
		t.Error("NewSchemaError mismatch")
	}

	e := NewExtractError("scan failed", cause)
	if e.Code != CodeExtractFailed || e.Fatal {
		t.Error("NewExtractError mismatch")
	}

	w := NewEmitError(CodeWriteFailed, "rename", cause)
	if w.Category != ErrCategoryEmit || !w.Fatal {
		t.Error("NewEmitError mismatch")
	}

	c := NewConfigError("workers must be positive")
	if c.Code != CodeInvalidConfig {
		t.Error("NewConfigError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
