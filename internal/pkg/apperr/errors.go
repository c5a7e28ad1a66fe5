package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound 表示按 id 查询的对象不存在。
var ErrNotFound = errors.New("not found")

// ValidationError 汇总一次校验中发现的所有问题，调用方应直接返回给用户而不重试。
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// Add 追加一条问题描述。
func (e *ValidationError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// OrNil 在没有问题时返回 nil，便于 `return v.OrNil()`。
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Problems) == 0 {
		return nil
	}
	return e
}

func Validation(format string, args ...any) error {
	return &ValidationError{Problems: []string{fmt.Sprintf(format, args...)}}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
