package volcengine

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/agent-infra/sandbox-go/credentials"
	"github.com/agent-infra/sandbox-go/internal/clientv2"
	"github.com/agent-infra/sandbox-go/retrier"
	"github.com/agent-infra/sandbox-go/sandbox"
)

var (
	throttlingCodes  = []string{"RequestLimitExceeded", "FlowLimitExceeded", "Throttling"}
	unavailableCodes = []string{"InternalError", "InternalServiceError", "ServiceUnavailable", "ServiceTimeout"}
	authCodes        = []string{
		"InvalidAccessKey", "SignatureDoesNotMatch", "InvalidCredential", "AccessDenied",
		"MissingAuthenticationToken", "InvalidAuthorization", "InvalidTimestamp",
	}
	quotaCodes    = []string{"QuotaExceeded", "LimitExceeded.Sandbox", "InsufficientResource", "ExceedQuota"}
	scopeCodes    = []string{"InvalidFunction", "FunctionNotFound", "ResourceNotFound.Function"}
	notFoundCodes = []string{"InvalidSandbox.NotFound", "SandboxNotFound", "ResourceNotFound.Sandbox"}
	// terminatedCodes 删除已经终止的沙箱时返回的错误码，视为删除成功
	terminatedCodes = []string{"InvalidSandbox.Terminated", "SandboxTerminated", "SandboxAlreadyKilled"}
)

func hasCode(code string, codes []string) bool {
	for _, c := range codes {
		if strings.Contains(code, c) {
			return true
		}
	}
	return false
}

func isThrottlingCode(code string) bool {
	return hasCode(code, throttlingCodes)
}

func isTerminatedCode(code string) bool {
	return hasCode(code, terminatedCodes)
}

// kindForCode 将后端错误码映射为错误类别，retryable 表示是否属于可重试的不可用错误
func kindForCode(statusCode int, code string) (kind sandbox.Kind, retryable bool) {
	switch {
	case hasCode(code, notFoundCodes):
		return sandbox.KindNotFound, false
	case hasCode(code, scopeCodes):
		return sandbox.KindInvalidScope, false
	case hasCode(code, quotaCodes):
		return sandbox.KindQuotaExceeded, false
	case isThrottlingCode(code), hasCode(code, unavailableCodes):
		return sandbox.KindProviderUnavailable, true
	case hasCode(code, authCodes):
		return sandbox.KindProviderUnavailable, false
	}
	switch {
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return sandbox.KindProviderUnavailable, true
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return sandbox.KindProviderUnavailable, false
	}
	return sandbox.KindUnknown, false
}

// apiError 后端在 ResponseMetadata.Error 中返回的错误
type apiError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *apiError) Error() string {
	return e.Code + ": " + e.Message
}

func (e *apiError) toSandboxError(op string) *sandbox.Error {
	kind, _ := kindForCode(e.StatusCode, e.Code)
	return &sandbox.Error{
		Kind:       kind,
		Op:         op,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Code:       e.Code,
		RequestID:  e.RequestID,
		// 后端明确拒绝的请求没有副作用
		NoSideEffect: e.StatusCode > 0 && e.StatusCode < 500,
		Err:          e,
	}
}

func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var sdkErr *sandbox.Error
	if errors.As(err, &sdkErr) {
		return err
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.toSandboxError(op)
	}
	var respErr *clientv2.ResponseError
	if errors.As(err, &respErr) {
		if apiErr = decodeAPIError(respErr.StatusCode, respErr.Body); apiErr != nil {
			return apiErr.toSandboxError(op)
		}
		kind, _ := kindForCode(respErr.StatusCode, "")
		return &sandbox.Error{
			Kind:       kind,
			Op:         op,
			Message:    clientv2.Excerpt(respErr.Body),
			StatusCode: respErr.StatusCode,
			Err:        err,
		}
	}
	if errors.Is(err, credentials.ErrNoCredentials) {
		return &sandbox.Error{Kind: sandbox.KindProviderUnavailable, Op: op, Message: "no credentials", NoSideEffect: true, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &sandbox.Error{Kind: sandbox.KindTimeout, Op: op, Err: err}
	}
	return &sandbox.Error{
		Kind:         sandbox.KindProviderUnavailable,
		Op:           op,
		Message:      "control plane unreachable",
		NoSideEffect: retrier.IsDialError(err),
		Err:          err,
	}
}
