package env

import (
	"os"
	"strings"
)

const (
	environmentVariableNameVolcAccessKey     = "VOLC_ACCESSKEY"
	environmentVariableNameVolcSecretKey     = "VOLC_SECRETKEY"
	environmentVariableNameVolcengineAK      = "VOLCENGINE_ACCESS_KEY"
	environmentVariableNameVolcengineSK      = "VOLCENGINE_SECRET_KEY"
	environmentVariableNameVolcengineRegion  = "VOLCENGINE_REGION"
	environmentVariableNameSandboxBaseURL    = "SANDBOX_BASE_URL"
	environmentVariableNameSandboxToken      = "SANDBOX_TOKEN"
	environmentVariableNameSandboxConfigFile = "SANDBOX_CONFIG_FILE"
	environmentVariableNameSandboxProfile    = "SANDBOX_PROFILE"
	environmentVariableNameSandboxFunctionID = "SANDBOX_FUNCTION_ID"
)

// CredentialsFromEnvironment 读取 AK/SK，两者必须同时存在
func CredentialsFromEnvironment() (string, string) {
	accessKey := firstNonEmpty(environmentVariableNameVolcAccessKey, environmentVariableNameVolcengineAK)
	secretKey := firstNonEmpty(environmentVariableNameVolcSecretKey, environmentVariableNameVolcengineSK)
	if accessKey == "" || secretKey == "" {
		return "", ""
	}
	return accessKey, secretKey
}

func RegionFromEnvironment() string {
	return strings.TrimSpace(os.Getenv(environmentVariableNameVolcengineRegion))
}

func BaseURLFromEnvironment() string {
	return strings.TrimSpace(os.Getenv(environmentVariableNameSandboxBaseURL))
}

func TokenFromEnvironment() string {
	return os.Getenv(environmentVariableNameSandboxToken)
}

func ConfigFileFromEnvironment() string {
	return os.Getenv(environmentVariableNameSandboxConfigFile)
}

func ProfileFromEnvironment() string {
	return os.Getenv(environmentVariableNameSandboxProfile)
}

func FunctionIDFromEnvironment() string {
	return strings.TrimSpace(os.Getenv(environmentVariableNameSandboxFunctionID))
}

func firstNonEmpty(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}
