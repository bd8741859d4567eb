package kubernetes

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/agent-infra/sandbox-go/retrier"
	"github.com/agent-infra/sandbox-go/sandbox"
)

func isQuotaError(err error) bool {
	return apierrors.IsForbidden(err) && strings.Contains(err.Error(), "exceeded quota")
}

// isRetryable 判断 API 错误是否表示控制面暂不可用
func isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case apierrors.IsTooManyRequests(err), apierrors.IsServerTimeout(err),
		apierrors.IsInternalError(err), apierrors.IsServiceUnavailable(err), apierrors.IsTimeout(err):
		return true
	}
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		return retrier.IsStatusCodeRetryable(int(status.Status().Code))
	}
	return retrier.IsErrorRetryable(err)
}

func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var sdkErr *sandbox.Error
	if errors.As(err, &sdkErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &sandbox.Error{Kind: sandbox.KindTimeout, Op: op, Err: err}
	}

	var status apierrors.APIStatus
	if !errors.As(err, &status) {
		return &sandbox.Error{
			Kind:         sandbox.KindProviderUnavailable,
			Op:           op,
			Message:      "kubernetes api unreachable",
			NoSideEffect: retrier.IsDialError(err),
			Err:          err,
		}
	}
	s := status.Status()
	e := &sandbox.Error{
		Kind:         sandbox.KindUnknown,
		Op:           op,
		Message:      s.Message,
		StatusCode:   int(s.Code),
		Code:         string(s.Reason),
		NoSideEffect: s.Code > 0 && s.Code < http.StatusInternalServerError,
		Err:          err,
	}
	switch {
	case apierrors.IsNotFound(err):
		e.Kind = sandbox.KindNotFound
	case isQuotaError(err):
		e.Kind = sandbox.KindQuotaExceeded
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err), isRetryable(err):
		e.Kind = sandbox.KindProviderUnavailable
	}
	return e
}
