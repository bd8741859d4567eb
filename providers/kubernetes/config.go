package kubernetes

import (
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/agent-infra/sandbox-go/backoff"
)

const (
	// DefaultNamespace 沙箱 Pod 默认所在的命名空间
	DefaultNamespace = "sandbox"
	// DefaultPort 沙箱服务在容器内默认监听的端口
	DefaultPort = 8080
	// DefaultMaxAttempts 默认的最大尝试次数（包含第一次请求）
	DefaultMaxAttempts = 4
)

// Template 作用域对应的 Pod 模板
type Template struct {
	Image string
	// Port 沙箱服务监听的端口，默认 DefaultPort
	Port int
	// CPU / Memory 资源请求与上限，Kubernetes 资源数量格式，如 "500m"、"1Gi"
	CPU    string
	Memory string
	Env    map[string]string
	// Command 覆盖镜像的入口命令（可选）
	Command []string
}

// RetryConfig 控制面请求的重试配置
type RetryConfig struct {
	// MaxAttempts 最大尝试次数，为 0 时使用 DefaultMaxAttempts，为 1 时不重试
	MaxAttempts int
	// Backoff 重试时间间隔，为空时使用 backoff.Default()
	Backoff backoff.Backoff
}

// Config Kubernetes Provider 配置
type Config struct {
	// Namespace 默认 DefaultNamespace
	Namespace string
	// Templates 作用域 ID 到 Pod 模板的映射，不在其中的作用域返回 KindInvalidScope
	Templates map[string]Template
	// Clientset 为空时使用 RestConfig 创建，RestConfig 也为空时使用集群内配置
	Clientset  kubernetes.Interface
	RestConfig *rest.Config
	Retry      *RetryConfig
	// ServiceAccountName Pod 使用的服务账号（可选）
	ServiceAccountName string
	// RequestTimeout 单次 API 请求的超时时间（可选）
	RequestTimeout time.Duration
}

func (c *Config) clientset() (kubernetes.Interface, error) {
	if c.Clientset != nil {
		return c.Clientset, nil
	}
	restConfig := c.RestConfig
	if restConfig == nil {
		var err error
		if restConfig, err = rest.InClusterConfig(); err != nil {
			return nil, err
		}
	}
	if c.RequestTimeout > 0 {
		restConfig = rest.CopyConfig(restConfig)
		restConfig.Timeout = c.RequestTimeout
	}
	return kubernetes.NewForConfig(restConfig)
}

func (c *Config) retry() RetryConfig {
	retry := RetryConfig{}
	if c.Retry != nil {
		retry = *c.Retry
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = DefaultMaxAttempts
	}
	if retry.Backoff == nil {
		retry.Backoff = backoff.Default()
	}
	return retry
}
