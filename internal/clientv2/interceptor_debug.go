package clientv2

import (
	"net/http"
	"net/http/httputil"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/agent-infra/sandbox-go/internal/log"
)

var authorizationPattern = regexp.MustCompile(`(?mi)^(Authorization|X-Security-Token):.*$`)

// RedactDump 抹去请求转储中的凭证
func RedactDump(dump []byte) []byte {
	return authorizationPattern.ReplaceAll(dump, []byte("$1: ****"))
}

type debugInterceptor struct{}

func newDebugInterceptor() Interceptor {
	return debugInterceptor{}
}

func (debugInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityDebug
}

func (debugInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	logger := log.Logger()
	if req == nil || req.URL == nil || logger.GetLevel() > zerolog.DebugLevel {
		return handler(req)
	}

	if dump, err := httputil.DumpRequestOut(req, false); err == nil {
		logger.Debug().Str("url", req.URL.String()).Bytes("request", RedactDump(dump)).Msg("send request")
	}

	start := time.Now()
	resp, err := handler(req)
	event := logger.Debug().Str("url", req.URL.String()).Dur("elapsed", time.Since(start))
	if err != nil {
		event.Err(err).Msg("request failed")
		return resp, err
	}
	if resp != nil {
		if dump, dumpErr := httputil.DumpResponse(resp, false); dumpErr == nil {
			event = event.Bytes("response", dump)
		}
		event.Int("status", resp.StatusCode).Msg("receive response")
	}
	return resp, err
}
