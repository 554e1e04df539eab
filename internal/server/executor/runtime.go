package executor

import (
	"context"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
)

// TaskStatus is the pod-runtime-observed state of a spawned task, mapped
// from a Kubernetes pod phase (spec.md §4.3's "Pod-phase mapping").
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskRunning
	TaskFinished
	TaskFailed
	// TaskUnknown covers both an unrecognized pod phase and the
	// zero-or-multiple-matching-pods cases; the executor treats all of
	// them as a hard fail (spec.md §4.3).
	TaskUnknown
)

// Runtime is the pod-runtime collaborator the executor drives — the
// "Kubernetes client library" spec.md declares out of scope. Grounded on
// other_examples/…cyclone…k8sapi.go's Executor for the call shape and
// jordigilh-kubernaut's go.mod for k8s.io/client-go's legitimacy in this
// pack.
type Runtime interface {
	CreateJob(ctx context.Context, job *batchv1.Job) error
	ListPodsByLabels(ctx context.Context, namespace string, labelSet map[string]string) ([]corev1.Pod, error)
	ReadPodPhase(ctx context.Context, namespace string, labelSet map[string]string) (TaskStatus, error)
}

type k8sRuntime struct {
	client kubernetes.Interface
}

func NewK8sRuntime(client kubernetes.Interface) Runtime {
	return &k8sRuntime{client: client}
}

func (r *k8sRuntime) CreateJob(ctx context.Context, job *batchv1.Job) error {
	_, err := r.client.BatchV1().Jobs(job.Namespace).Create(ctx, job, metav1.CreateOptions{})
	return err
}

func (r *k8sRuntime) ListPodsByLabels(ctx context.Context, namespace string, labelSet map[string]string) ([]corev1.Pod, error) {
	list, err := r.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.SelectorFromSet(labelSet).String(),
	})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}
	return list.Items, nil
}

func (r *k8sRuntime) ReadPodPhase(ctx context.Context, namespace string, labelSet map[string]string) (TaskStatus, error) {
	pods, err := r.ListPodsByLabels(ctx, namespace, labelSet)
	if err != nil {
		return TaskUnknown, err
	}
	if len(pods) != 1 {
		// spec.md §4.3: zero or multiple matching pods is a hard fail,
		// not a retryable condition.
		return TaskUnknown, nil
	}

	switch pods[0].Status.Phase {
	case corev1.PodPending:
		return TaskPending, nil
	case corev1.PodRunning:
		return TaskRunning, nil
	case corev1.PodSucceeded:
		return TaskFinished, nil
	case corev1.PodFailed:
		return TaskFailed, nil
	default:
		return TaskUnknown, nil
	}
}

// IsAlreadyExists reports whether err is the Kubernetes API's conflict
// error for a job name that already exists — the signal the §9 item 4 fix
// uses to treat a pre-existing job as a successful spawn on restart.
func IsAlreadyExists(err error) bool {
	return apierrors.IsAlreadyExists(err)
}
