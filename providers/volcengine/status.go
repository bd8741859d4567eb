package volcengine

import (
	"strings"

	"github.com/iancoleman/strcase"

	"github.com/agent-infra/sandbox-go/sandbox"
)

var statusTable = map[string]sandbox.Status{
	"pending":      sandbox.StatusProvisioning,
	"creating":     sandbox.StatusProvisioning,
	"starting":     sandbox.StatusProvisioning,
	"provisioning": sandbox.StatusProvisioning,
	"ready":        sandbox.StatusRunning,
	"running":      sandbox.StatusRunning,
	"stopping":     sandbox.StatusStopping,
	"terminating":  sandbox.StatusStopping,
	"killing":      sandbox.StatusStopping,
	"stopped":      sandbox.StatusTerminated,
	"terminated":   sandbox.StatusTerminated,
	"killed":       sandbox.StatusTerminated,
	"deleted":      sandbox.StatusTerminated,
	"failed":       sandbox.StatusFailed,
	"error":        sandbox.StatusFailed,
	"start_failed": sandbox.StatusFailed,
}

// parseStatus 将后端状态（Running、StartFailed、start-failed 等写法）映射为沙箱状态
func parseStatus(op, raw string) (sandbox.Status, error) {
	if status, ok := statusTable[strcase.ToSnake(strings.TrimSpace(raw))]; ok {
		return status, nil
	}
	return 0, sandbox.Errorf(sandbox.KindUnknown, op, "unknown sandbox status %q", raw)
}
