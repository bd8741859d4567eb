// Package kubernetes 以 Pod 作为沙箱实现沙箱生命周期管理。
//
// 每个作用域（functionID）对应 Config.Templates 中的一个 Pod 模板，
// 沙箱的数据面地址为 http://{podIP}:{port}，只能在集群网络内访问。
package kubernetes

import (
	"context"
	"encoding/json"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"

	"github.com/agent-infra/sandbox-go/backoff"
	"github.com/agent-infra/sandbox-go/internal/log"
	"github.com/agent-infra/sandbox-go/sandbox"
)

const (
	// LabelManagedBy 标记由本 SDK 创建的 Pod
	LabelManagedBy = "app.kubernetes.io/managed-by"
	// LabelFunction Pod 所属的作用域
	LabelFunction = "sandbox.agent-infra.io/function"

	annotationPort      = "sandbox.agent-infra.io/port"
	annotationMetadata  = "sandbox.agent-infra.io/metadata"
	annotationExpiresAt = "sandbox.agent-infra.io/expires-at"

	managedBy     = "sandbox-go"
	containerName = "sandbox"
)

// Provider Kubernetes 沙箱后端，可被并发使用
type Provider struct {
	client    kubernetes.Interface
	namespace string
	templates map[string]Template
	retry     RetryConfig
	account   string

	mu sync.Mutex
	// deleted 本进程删除过的沙箱，Pod 消失后再次删除仍然返回成功
	deleted map[string]struct{}
}

var _ sandbox.Provider = (*Provider)(nil)

// NewProvider 创建 Kubernetes Provider
func NewProvider(config *Config) (*Provider, error) {
	if config == nil {
		config = &Config{}
	}
	client, err := config.clientset()
	if err != nil {
		return nil, &sandbox.Error{Kind: sandbox.KindProviderUnavailable, Op: "kubernetes.NewProvider", Message: "create clientset", NoSideEffect: true, Err: err}
	}
	namespace := config.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	templates := make(map[string]Template, len(config.Templates))
	for scope, template := range config.Templates {
		templates[scope] = template
	}
	return &Provider{
		client:    client,
		namespace: namespace,
		templates: templates,
		retry:     config.retry(),
		account:   config.ServiceAccountName,
		deleted:   make(map[string]struct{}),
	}, nil
}

// do 执行一次 API 调用，控制面暂不可用时按退避策略重试
func (p *Provider) do(ctx context.Context, op string, fn func(context.Context) error) error {
	for attempts := 0; ; attempts++ {
		err := fn(ctx)
		if err == nil || attempts+1 >= p.retry.MaxAttempts || !isRetryable(err) || ctx.Err() != nil {
			return translateError(op, err)
		}
		log.With(map[string]interface{}{"op": op, "attempts": attempts + 1}).Debug().Err(err).Msg("retry kubernetes request")
		if waitErr := backoff.Wait(ctx, p.retry.Backoff, attempts); waitErr != nil {
			return translateError(op, waitErr)
		}
	}
}

func (p *Provider) template(op, functionID string) (Template, error) {
	if err := sandbox.ValidateScopeID(op, functionID); err != nil {
		return Template{}, err
	}
	template, ok := p.templates[functionID]
	if !ok || template.Image == "" {
		return Template{}, &sandbox.Error{Kind: sandbox.KindInvalidScope, Op: op, Message: "no pod template for " + functionID, NoSideEffect: true}
	}
	if template.Port <= 0 {
		template.Port = DefaultPort
	}
	return template, nil
}

// CreateSandbox 按作用域模板创建 Pod，ActiveDeadlineSeconds 为沙箱存活时长
func (p *Provider) CreateSandbox(ctx context.Context, functionID string, opts ...sandbox.CreateOption) (string, error) {
	const op = "kubernetes.CreateSandbox"
	template, err := p.template(op, functionID)
	if err != nil {
		return "", err
	}
	options, err := sandbox.NewCreateOptions(op, opts...)
	if err != nil {
		return "", err
	}
	pod, err := p.podSpec(functionID, template, options)
	if err != nil {
		return "", &sandbox.Error{Kind: sandbox.KindInvalidScope, Op: op, Message: err.Error(), NoSideEffect: true, Err: err}
	}

	var created *corev1.Pod
	err = p.do(ctx, op, func(ctx context.Context) (err error) {
		created, err = p.client.CoreV1().Pods(p.namespace).Create(ctx, pod, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			// 上一次尝试已经创建成功
			created, err = p.client.CoreV1().Pods(p.namespace).Get(ctx, pod.Name, metav1.GetOptions{})
		}
		return err
	})
	if err != nil {
		return "", err
	}
	log.With(map[string]interface{}{"function_id": functionID, "pod": created.Name}).Debug().Msg("sandbox pod created")
	return created.Name, nil
}

func (p *Provider) podSpec(functionID string, template Template, options *sandbox.CreateOptions) (*corev1.Pod, error) {
	resources := corev1.ResourceList{}
	if template.CPU != "" {
		cpu, err := resource.ParseQuantity(template.CPU)
		if err != nil {
			return nil, err
		}
		resources[corev1.ResourceCPU] = cpu
	}
	if template.Memory != "" {
		memory, err := resource.ParseQuantity(template.Memory)
		if err != nil {
			return nil, err
		}
		resources[corev1.ResourceMemory] = memory
	}

	env := make(map[string]string, len(template.Env)+len(options.Envs))
	for key, value := range template.Env {
		env[key] = value
	}
	for key, value := range options.Envs {
		env[key] = value
	}
	envVars := make([]corev1.EnvVar, 0, len(env))
	for key, value := range env {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: value})
	}
	sort.Slice(envVars, func(i, j int) bool { return envVars[i].Name < envVars[j].Name })

	annotations := map[string]string{
		annotationPort:      strconv.Itoa(template.Port),
		annotationExpiresAt: time.Now().UTC().Add(time.Duration(options.TimeoutMinutes) * time.Minute).Format(time.RFC3339),
	}
	if len(options.Metadata) > 0 {
		metadata, err := json.Marshal(options.Metadata)
		if err != nil {
			return nil, err
		}
		annotations[annotationMetadata] = string(metadata)
	}

	deadline := int64(options.TimeoutMinutes) * 60
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "sbx-" + uuid.NewString(),
			Namespace: p.namespace,
			Labels: map[string]string{
				LabelManagedBy: managedBy,
				LabelFunction:  functionID,
			},
			Annotations: annotations,
		},
		Spec: corev1.PodSpec{
			RestartPolicy:         corev1.RestartPolicyNever,
			ActiveDeadlineSeconds: &deadline,
			ServiceAccountName:    p.account,
			Containers: []corev1.Container{
				{
					Name:    containerName,
					Image:   template.Image,
					Command: template.Command,
					Env:     envVars,
					Ports: []corev1.ContainerPort{
						{Name: "http", ContainerPort: int32(template.Port)},
					},
					Resources: corev1.ResourceRequirements{Requests: resources, Limits: resources},
				},
			},
		},
	}, nil
}

func selector(functionID string) string {
	return labels.SelectorFromSet(labels.Set{LabelManagedBy: managedBy, LabelFunction: functionID}).String()
}

// ListSandboxes 按标签列出作用域内的 Pod，按创建时间排序
func (p *Provider) ListSandboxes(ctx context.Context, functionID string) ([]sandbox.Descriptor, error) {
	const op = "kubernetes.ListSandboxes"
	if err := sandbox.ValidateScopeID(op, functionID); err != nil {
		return nil, err
	}
	var pods *corev1.PodList
	err := p.do(ctx, op, func(ctx context.Context) (err error) {
		pods, err = p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector(functionID)})
		return err
	})
	if err != nil {
		return nil, err
	}
	descriptors := make([]sandbox.Descriptor, 0, len(pods.Items))
	for i := range pods.Items {
		descriptors = append(descriptors, *describe(&pods.Items[i]))
	}
	sort.SliceStable(descriptors, func(i, j int) bool {
		if !descriptors[i].CreatedAt.Equal(descriptors[j].CreatedAt) {
			return descriptors[i].CreatedAt.Before(descriptors[j].CreatedAt)
		}
		return descriptors[i].SandboxID < descriptors[j].SandboxID
	})
	return descriptors, nil
}

// GetSandbox 查询 Pod。本进程删除过且已经消失的 Pod 返回 Terminated
func (p *Provider) GetSandbox(ctx context.Context, functionID, sandboxID string) (*sandbox.Descriptor, error) {
	const op = "kubernetes.GetSandbox"
	pod, err := p.getPod(ctx, op, functionID, sandboxID)
	if sandbox.IsKind(err, sandbox.KindNotFound) && p.wasDeleted(functionID, sandboxID) {
		return &sandbox.Descriptor{SandboxID: sandboxID, FunctionID: functionID, Status: sandbox.StatusTerminated}, nil
	}
	if err != nil {
		return nil, err
	}
	return describe(pod), nil
}

func (p *Provider) getPod(ctx context.Context, op, functionID, sandboxID string) (*corev1.Pod, error) {
	if err := sandbox.ValidateScopeID(op, functionID); err != nil {
		return nil, err
	}
	if err := sandbox.ValidateSandboxID(op, sandboxID); err != nil {
		return nil, err
	}
	var pod *corev1.Pod
	err := p.do(ctx, op, func(ctx context.Context) (err error) {
		pod, err = p.client.CoreV1().Pods(p.namespace).Get(ctx, sandboxID, metav1.GetOptions{})
		return err
	})
	if err != nil {
		return nil, err
	}
	if pod.Labels[LabelManagedBy] != managedBy || pod.Labels[LabelFunction] != functionID {
		return nil, &sandbox.Error{Kind: sandbox.KindNotFound, Op: op, Message: "sandbox " + sandboxID + " does not belong to " + functionID, NoSideEffect: true}
	}
	return pod, nil
}

// DeleteSandbox 以后台级联方式删除 Pod
func (p *Provider) DeleteSandbox(ctx context.Context, functionID, sandboxID string) error {
	const op = "kubernetes.DeleteSandbox"
	pod, err := p.getPod(ctx, op, functionID, sandboxID)
	if err != nil {
		if sandbox.IsKind(err, sandbox.KindNotFound) && p.wasDeleted(functionID, sandboxID) {
			return nil
		}
		return err
	}
	if pod.DeletionTimestamp != nil {
		p.markDeleted(functionID, sandboxID)
		return nil
	}

	propagation := metav1.DeletePropagationBackground
	err = p.do(ctx, op, func(ctx context.Context) error {
		return p.client.CoreV1().Pods(p.namespace).Delete(ctx, sandboxID, metav1.DeleteOptions{PropagationPolicy: &propagation})
	})
	if err != nil && !sandbox.IsKind(err, sandbox.KindNotFound) {
		return err
	}
	p.markDeleted(functionID, sandboxID)
	return nil
}

func (p *Provider) markDeleted(functionID, sandboxID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted[functionID+"/"+sandboxID] = struct{}{}
}

func (p *Provider) wasDeleted(functionID, sandboxID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.deleted[functionID+"/"+sandboxID]
	return ok
}

func podStatus(pod *corev1.Pod) sandbox.Status {
	if pod.DeletionTimestamp != nil {
		return sandbox.StatusStopping
	}
	switch pod.Status.Phase {
	case corev1.PodRunning:
		if pod.Status.PodIP != "" && podReady(pod) {
			return sandbox.StatusRunning
		}
		return sandbox.StatusProvisioning
	case corev1.PodSucceeded:
		return sandbox.StatusTerminated
	case corev1.PodFailed:
		return sandbox.StatusFailed
	default:
		return sandbox.StatusProvisioning
	}
}

// podReady 没有任何 Condition 的 Pod 视为就绪
func podReady(pod *corev1.Pod) bool {
	if len(pod.Status.Conditions) == 0 {
		return true
	}
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

func describe(pod *corev1.Pod) *sandbox.Descriptor {
	d := &sandbox.Descriptor{
		SandboxID:  pod.Name,
		FunctionID: pod.Labels[LabelFunction],
		Status:     podStatus(pod),
		CreatedAt:  pod.CreationTimestamp.Time,
	}
	if expiresAt, err := time.Parse(time.RFC3339, pod.Annotations[annotationExpiresAt]); err == nil {
		d.ExpiresAt = &expiresAt
	}
	if raw := pod.Annotations[annotationMetadata]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &d.Metadata); err != nil {
			log.With(map[string]interface{}{"pod": pod.Name}).Warn().Err(err).Msg("ignore malformed metadata annotation")
		}
	}
	if d.Status == sandbox.StatusRunning {
		port, err := strconv.Atoi(pod.Annotations[annotationPort])
		if err != nil || port <= 0 {
			port = DefaultPort
		}
		baseURL := "http://" + net.JoinHostPort(pod.Status.PodIP, strconv.Itoa(port))
		d.Endpoint = &sandbox.Endpoint{BaseURL: baseURL, Domains: []sandbox.Domain{{URL: baseURL, Type: "pod"}}}
	}
	d.Normalize()
	return d
}
