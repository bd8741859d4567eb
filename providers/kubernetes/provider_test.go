package kubernetes

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"
	k8stesting "k8s.io/client-go/testing"

	"github.com/agent-infra/sandbox-go/backoff"
	"github.com/agent-infra/sandbox-go/sandbox"
)

const testFunctionID = "fn-1"

func newTestProvider(t *testing.T, objects ...runtime.Object) (*Provider, *fake.Clientset) {
	client := fake.NewSimpleClientset(objects...)
	p, err := NewProvider(&Config{
		Namespace: "sandboxes",
		Clientset: client,
		Templates: map[string]Template{
			testFunctionID: {
				Image:  "ghcr.io/agent-infra/sandbox:latest",
				Port:   8091,
				CPU:    "500m",
				Memory: "1Gi",
				Env:    map[string]string{"MODE": "default", "LANG": "C.UTF-8"},
			},
			"fn-bad-cpu": {Image: "busybox", CPU: "lots"},
		},
		Retry: &RetryConfig{Backoff: backoff.NewFixedBackoff(time.Millisecond)},
	})
	require.NoError(t, err)
	return p, client
}

func markRunning(t *testing.T, client *fake.Clientset, name string, conditions ...corev1.PodCondition) {
	pods := client.CoreV1().Pods("sandboxes")
	pod, err := pods.Get(context.Background(), name, metav1.GetOptions{})
	require.NoError(t, err)
	pod.Status.Phase = corev1.PodRunning
	pod.Status.PodIP = "10.0.0.7"
	pod.Status.Conditions = conditions
	_, err = pods.Update(context.Background(), pod, metav1.UpdateOptions{})
	require.NoError(t, err)
}

func TestProviderLifecycle(t *testing.T) {
	ctx := context.Background()
	p, client := newTestProvider(t)

	id, err := p.CreateSandbox(ctx, testFunctionID,
		sandbox.WithTimeout(15),
		sandbox.WithEnvs(map[string]string{"MODE": "custom"}),
		sandbox.WithMetadata(map[string]string{"owner": "tests"}))
	require.NoError(t, err)
	assert.Regexp(t, `^sbx-[0-9a-f-]{36}$`, id)

	pod, err := client.CoreV1().Pods("sandboxes").Get(ctx, id, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, managedBy, pod.Labels[LabelManagedBy])
	assert.Equal(t, testFunctionID, pod.Labels[LabelFunction])
	assert.Equal(t, corev1.RestartPolicyNever, pod.Spec.RestartPolicy)
	require.NotNil(t, pod.Spec.ActiveDeadlineSeconds)
	assert.Equal(t, int64(900), *pod.Spec.ActiveDeadlineSeconds)
	container := pod.Spec.Containers[0]
	assert.Equal(t, []corev1.EnvVar{{Name: "LANG", Value: "C.UTF-8"}, {Name: "MODE", Value: "custom"}}, container.Env)
	assert.Equal(t, int32(8091), container.Ports[0].ContainerPort)
	assert.Equal(t, "500m", container.Resources.Limits.Cpu().String())
	assert.Equal(t, "1Gi", container.Resources.Requests.Memory().String())

	d, err := p.GetSandbox(ctx, testFunctionID, id)
	require.NoError(t, err)
	assert.Equal(t, sandbox.StatusProvisioning, d.Status)
	assert.Nil(t, d.Endpoint)
	assert.Equal(t, map[string]string{"owner": "tests"}, d.Metadata)
	require.NotNil(t, d.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), *d.ExpiresAt, time.Minute)

	markRunning(t, client, id, corev1.PodCondition{Type: corev1.PodReady, Status: corev1.ConditionTrue})
	d, err = p.GetSandbox(ctx, testFunctionID, id)
	require.NoError(t, err)
	assert.Equal(t, sandbox.StatusRunning, d.Status)
	require.NotNil(t, d.Endpoint)
	assert.Equal(t, "http://10.0.0.7:8091", d.Endpoint.BaseURL)
	assert.NoError(t, d.Validate())

	list, err := p.ListSandboxes(ctx, testFunctionID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].SandboxID)

	require.NoError(t, p.DeleteSandbox(ctx, testFunctionID, id))
	require.NoError(t, p.DeleteSandbox(ctx, testFunctionID, id), "second delete succeeds")

	var propagation *metav1.DeletionPropagation
	for _, action := range client.Actions() {
		if del, ok := action.(k8stesting.DeleteActionImpl); ok {
			propagation = del.DeleteOptions.PropagationPolicy
		}
	}
	require.NotNil(t, propagation)
	assert.Equal(t, metav1.DeletePropagationBackground, *propagation)

	d, err = p.GetSandbox(ctx, testFunctionID, id)
	require.NoError(t, err)
	assert.Equal(t, sandbox.StatusTerminated, d.Status)

	list, err = p.ListSandboxes(ctx, testFunctionID)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestProviderScope(t *testing.T) {
	ctx := context.Background()
	p, client := newTestProvider(t)

	_, err := p.CreateSandbox(ctx, "fn-unknown")
	assert.ErrorIs(t, err, sandbox.ErrInvalidScope)
	_, err = p.CreateSandbox(ctx, "")
	assert.ErrorIs(t, err, sandbox.ErrInvalidScope)
	_, err = p.CreateSandbox(ctx, "fn-bad-cpu")
	assert.ErrorIs(t, err, sandbox.ErrInvalidScope)
	_, err = p.CreateSandbox(ctx, testFunctionID, sandbox.WithTimeout(2000))
	assert.ErrorIs(t, err, sandbox.ErrInvalidScope)
	assert.Empty(t, client.Actions())

	id, err := p.CreateSandbox(ctx, testFunctionID)
	require.NoError(t, err)
	_, err = p.GetSandbox(ctx, "fn-other", id)
	assert.ErrorIs(t, err, sandbox.ErrNotFound)
	assert.ErrorIs(t, p.DeleteSandbox(ctx, "fn-other", id), sandbox.ErrNotFound)

	list, err := p.ListSandboxes(ctx, "fn-other")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestProviderDeleteUnknown(t *testing.T) {
	p, _ := newTestProvider(t)
	err := p.DeleteSandbox(context.Background(), testFunctionID, "sbx-never-existed")
	assert.ErrorIs(t, err, sandbox.ErrNotFound)
	var sdkErr *sandbox.Error
	require.True(t, errors.As(err, &sdkErr))
	assert.Equal(t, 404, sdkErr.StatusCode)
	assert.Equal(t, string(metav1.StatusReasonNotFound), sdkErr.Code)
	assert.True(t, sdkErr.NoSideEffect)
}

func TestPodStatus(t *testing.T) {
	now := metav1.Now()
	ready := corev1.PodCondition{Type: corev1.PodReady, Status: corev1.ConditionTrue}
	notReady := corev1.PodCondition{Type: corev1.PodReady, Status: corev1.ConditionFalse}
	for _, tc := range []struct {
		name string
		pod  corev1.Pod
		want sandbox.Status
	}{
		{"pending", corev1.Pod{Status: corev1.PodStatus{Phase: corev1.PodPending}}, sandbox.StatusProvisioning},
		{"no phase", corev1.Pod{}, sandbox.StatusProvisioning},
		{"running without ip", corev1.Pod{Status: corev1.PodStatus{Phase: corev1.PodRunning}}, sandbox.StatusProvisioning},
		{"running not ready", corev1.Pod{Status: corev1.PodStatus{Phase: corev1.PodRunning, PodIP: "10.0.0.1", Conditions: []corev1.PodCondition{notReady}}}, sandbox.StatusProvisioning},
		{"running ready", corev1.Pod{Status: corev1.PodStatus{Phase: corev1.PodRunning, PodIP: "10.0.0.1", Conditions: []corev1.PodCondition{ready}}}, sandbox.StatusRunning},
		{"running no conditions", corev1.Pod{Status: corev1.PodStatus{Phase: corev1.PodRunning, PodIP: "10.0.0.1"}}, sandbox.StatusRunning},
		{"succeeded", corev1.Pod{Status: corev1.PodStatus{Phase: corev1.PodSucceeded}}, sandbox.StatusTerminated},
		{"failed", corev1.Pod{Status: corev1.PodStatus{Phase: corev1.PodFailed}}, sandbox.StatusFailed},
		{"unknown", corev1.Pod{Status: corev1.PodStatus{Phase: corev1.PodUnknown}}, sandbox.StatusProvisioning},
		{"deleting", corev1.Pod{ObjectMeta: metav1.ObjectMeta{DeletionTimestamp: &now}, Status: corev1.PodStatus{Phase: corev1.PodRunning, PodIP: "10.0.0.1"}}, sandbox.StatusStopping},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pod := tc.pod
			pod.Name = "sbx-1"
			assert.Equal(t, tc.want, podStatus(&pod))
			d := describe(&pod)
			assert.NoError(t, d.Validate())
		})
	}
}

func TestDescribeIPv6(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "sbx-1", Annotations: map[string]string{annotationPort: "9000"}},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning, PodIP: "fd00::7"},
	}
	d := describe(pod)
	require.NotNil(t, d.Endpoint)
	assert.Equal(t, "http://[fd00::7]:9000", d.Endpoint.BaseURL)
}

func TestProviderStoppingPod(t *testing.T) {
	now := metav1.Now()
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:              "sbx-stopping",
			Namespace:         "sandboxes",
			Labels:            map[string]string{LabelManagedBy: managedBy, LabelFunction: testFunctionID},
			DeletionTimestamp: &now,
			Finalizers:        []string{"example.com/hold"},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning, PodIP: "10.0.0.9"},
	}
	p, client := newTestProvider(t, pod)

	d, err := p.GetSandbox(context.Background(), testFunctionID, "sbx-stopping")
	require.NoError(t, err)
	assert.Equal(t, sandbox.StatusStopping, d.Status)
	assert.Nil(t, d.Endpoint)

	client.ClearActions()
	require.NoError(t, p.DeleteSandbox(context.Background(), testFunctionID, "sbx-stopping"))
	for _, action := range client.Actions() {
		assert.NotEqual(t, "delete", action.GetVerb())
	}
}

func TestProviderQuota(t *testing.T) {
	p, client := newTestProvider(t)
	client.PrependReactor("create", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewForbidden(schema.GroupResource{Resource: "pods"}, "sbx-1",
			errors.New("exceeded quota: compute-resources, requested: cpu=500m, used: cpu=2, limited: cpu=2"))
	})
	_, err := p.CreateSandbox(context.Background(), testFunctionID)
	assert.ErrorIs(t, err, sandbox.ErrQuotaExceeded)
	assert.True(t, sandbox.SafeToRetry(err))
}

func TestProviderRetry(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"service unavailable", apierrors.NewServiceUnavailable("apiserver is restarting")},
		{"too many requests", apierrors.NewTooManyRequests("slow down", 1)},
		{"internal error", apierrors.NewInternalError(errors.New("etcd leader changed"))},
		{"connection reset", errors.New("read tcp 10.0.0.1:443: connection reset by peer")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, client := newTestProvider(t)
			var calls int32
			client.PrependReactor("list", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
				if atomic.AddInt32(&calls, 1) <= 2 {
					return true, nil, tc.err
				}
				return false, nil, nil
			})
			list, err := p.ListSandboxes(context.Background(), testFunctionID)
			require.NoError(t, err)
			assert.Empty(t, list)
			assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
		})
	}

	t.Run("gives up", func(t *testing.T) {
		p, client := newTestProvider(t)
		var calls int32
		client.PrependReactor("get", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
			atomic.AddInt32(&calls, 1)
			return true, nil, apierrors.NewServiceUnavailable("down")
		})
		_, err := p.GetSandbox(context.Background(), testFunctionID, "sbx-1")
		assert.ErrorIs(t, err, sandbox.ErrProviderUnavailable)
		assert.False(t, sandbox.SafeToRetry(err))
		assert.Equal(t, int32(DefaultMaxAttempts), atomic.LoadInt32(&calls))
	})

	for _, tc := range []struct {
		name string
		err  error
	}{
		{"unauthorized", apierrors.NewUnauthorized("token expired")},
		{"forbidden", apierrors.NewForbidden(schema.GroupResource{Resource: "pods"}, "", errors.New("rbac denied"))},
	} {
		t.Run(tc.name+" is not retried", func(t *testing.T) {
			p, client := newTestProvider(t)
			var calls int32
			client.PrependReactor("create", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
				atomic.AddInt32(&calls, 1)
				return true, nil, tc.err
			})
			_, err := p.CreateSandbox(context.Background(), testFunctionID)
			assert.ErrorIs(t, err, sandbox.ErrProviderUnavailable)
			assert.True(t, sandbox.SafeToRetry(err))
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestProviderCreateRetryAlreadyExists(t *testing.T) {
	p, client := newTestProvider(t)
	var calls int32
	client.PrependReactor("create", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// 请求已经生效，但响应丢失
			obj := action.(k8stesting.CreateAction).GetObject()
			require.NoError(t, client.Tracker().Add(obj))
			return true, nil, apierrors.NewServerTimeout(schema.GroupResource{Resource: "pods"}, "create", 1)
		}
		return false, nil, nil
	})
	id, err := p.CreateSandbox(context.Background(), testFunctionID)
	require.NoError(t, err)
	_, err = p.GetSandbox(context.Background(), testFunctionID, id)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestProviderConcurrentCreate(t *testing.T) {
	p, _ := newTestProvider(t)
	const n = 10
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := p.CreateSandbox(context.Background(), testFunctionID)
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	list, err := p.ListSandboxes(context.Background(), testFunctionID)
	require.NoError(t, err)
	assert.Len(t, list, n)
}

func TestProviderUnreachableAPIServer(t *testing.T) {
	p, err := NewProvider(&Config{
		RestConfig: &rest.Config{Host: "http://127.0.0.1:1"},
		Templates:  map[string]Template{testFunctionID: {Image: "busybox"}},
		Retry:      &RetryConfig{MaxAttempts: 2, Backoff: backoff.NewFixedBackoff(time.Millisecond)},
	})
	require.NoError(t, err)
	_, err = p.ListSandboxes(context.Background(), testFunctionID)
	assert.ErrorIs(t, err, sandbox.ErrProviderUnavailable)
	assert.True(t, sandbox.SafeToRetry(err))
}

func TestNewProviderOutsideCluster(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	t.Setenv("KUBERNETES_SERVICE_PORT", "")
	_, err := NewProvider(&Config{})
	assert.ErrorIs(t, err, sandbox.ErrProviderUnavailable)
	assert.ErrorIs(t, err, rest.ErrNotInCluster)
}

func TestProviderCanceled(t *testing.T) {
	p, client := newTestProvider(t)
	p.retry.Backoff = backoff.NewFixedBackoff(time.Second)
	client.PrependReactor("list", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewServiceUnavailable("down")
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.ListSandboxes(ctx, testFunctionID)
	assert.ErrorIs(t, err, sandbox.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
