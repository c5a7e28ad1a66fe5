package apihttp

import (
	"errors"
	"net/http"

	"tradegate/internal/backtest"
	"tradegate/internal/executor"
	"tradegate/internal/pkg/apperr"
	"tradegate/internal/riskgate"
	"tradegate/internal/strategy"

	"github.com/gin-gonic/gin"
)

// envelope 是所有接口统一的响应结构。
type envelope struct {
	OK       bool     `json:"ok"`
	Data     any      `json:"data,omitempty"`
	Error    string   `json:"error,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{OK: true, Data: data})
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	body := envelope{OK: false, Error: err.Error()}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		body.Problems = ve.Problems
	}
	if status >= http.StatusInternalServerError {
		apiLog.Errorf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, format string, args ...any) {
	fail(c, apperr.Validation(format, args...))
}

// statusFor 校验类错误 400，不存在 404，其余 500。
func statusFor(err error) int {
	switch {
	case apperr.IsValidation(err),
		errors.Is(err, riskgate.ErrInvalidJob),
		errors.Is(err, strategy.ErrMissingATR),
		errors.Is(err, backtest.ErrInsufficientBalance),
		errors.Is(err, executor.ErrLiveUnavailable):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, backtest.ErrNoData):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func problemsOf(err error) []string {
	var ve *apperr.ValidationError
	if errors.As(err, &ve) && len(ve.Problems) > 0 {
		return ve.Problems
	}
	return []string{err.Error()}
}
