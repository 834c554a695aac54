package xerrors

import (
	"errors"
	"fmt"
	"testing"
)

// TestWrap 测试错误包装保留错误链
func TestWrap(t *testing.T) {
	base := New("connection refused")
	wrapped := Wrap(base, "dial upstream")

	if wrapped == nil {
		t.Fatal("Wrap should not return nil for a non-nil error")
	}
	if !Is(wrapped, base) {
		t.Error("wrapped error should match the base error via Is")
	}
	if Wrap(nil, "noop") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

// TestWrapf 测试格式化包装
func TestWrapf(t *testing.T) {
	base := New("timeout")
	wrapped := Wrapf(base, "call %s failed", "image-analysis")

	want := "call image-analysis failed: timeout"
	if wrapped.Error() != want {
		t.Errorf("unexpected message: got %q, want %q", wrapped.Error(), want)
	}
}

// TestCodedError 测试错误码提取
func TestCodedError(t *testing.T) {
	base := New("bad payload")
	coded := WithCode(base, "ERR_INVALID_INPUT")

	if GetCode(coded) != "ERR_INVALID_INPUT" {
		t.Errorf("GetCode should find the code, got %q", GetCode(coded))
	}
	if !Is(coded, base) {
		t.Error("coded error should unwrap to the base error")
	}

	// 外层再包装一次，码依然可以提取
	outer := Wrap(coded, "handler")
	if GetCode(outer) != "ERR_INVALID_INPUT" {
		t.Errorf("GetCode should traverse the chain, got %q", GetCode(outer))
	}

	if GetCode(New("plain")) != "" {
		t.Error("GetCode on a plain error should be empty")
	}
}

// TestCombine 测试错误合并
func TestCombine(t *testing.T) {
	if Combine(nil, nil) != nil {
		t.Error("Combine of nils should be nil")
	}

	single := New("only one")
	if Combine(nil, single) != single {
		t.Error("Combine with a single error should return it unchanged")
	}

	e1, e2 := New("first"), New("second")
	combined := Combine(e1, nil, e2)

	var multi *MultiError
	if !As(combined, &multi) {
		t.Fatal("Combine of two errors should return a MultiError")
	}
	if len(multi.Errors) != 2 {
		t.Errorf("expected 2 errors, got %d", len(multi.Errors))
	}
	if !Is(combined, e2) {
		t.Error("MultiError should match contained errors via Is")
	}
}

// TestMust 测试初始化辅助函数
func TestMust(t *testing.T) {
	if got := Must(42, nil); got != 42 {
		t.Errorf("Must should pass the value through, got %d", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("Must with an error should panic")
		}
	}()
	Must(0, errors.New("boom"))
}

// TestSentinels 测试哨兵错误的链式匹配
func TestSentinels(t *testing.T) {
	err := fmt.Errorf("dependency %q: %w", "nlu", ErrNotFound)
	if !Is(err, ErrNotFound) {
		t.Error("wrapped sentinel should match via Is")
	}
}
