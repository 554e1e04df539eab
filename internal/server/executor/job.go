package executor

import (
	"encoding/json"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/flowmium/flowmium/internal/flow/model"
)

const sharedBinVolumeName = "flowmium-bin"
const sharedBinMountPath = "/flowmium-bin"

// JobConfig carries the executor-wide settings a spawned job manifest
// needs, sourced from app.Config (SPEC_FULL §6's FLOWMIUM_* vars).
type JobConfig struct {
	Namespace        string
	InitContainerImg string
	FlowIDLabel      string
	TaskIDLabel      string
	BucketName       string
	AccessKey        string
	SecretKey        string
	TaskStoreURL     string
}

// jobName derives a stable, idempotent job name from the flow id and task
// name so a crash between spawn and mark_running re-targets the same job
// on the next tick (spec.md §4.3's crash-recovery note, §9 item 4).
func jobName(flowID int64, taskName string) string {
	return fmt.Sprintf("flowmium-%d-%s", flowID, sanitizeName(taskName))
}

func sanitizeName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}

// buildJob constructs the Kubernetes Job manifest described in spec.md
// §4.3's "Container job shape": an init container that copies the
// flowmium binary onto a Memory-backed emptyDir, a main container running
// the user's image with its entrypoint overridden to `<shared>/flowmium
// task <user-cmd…>`, restartPolicy Never, backoffLimit 0. Adapted from
// other_examples/…tekton…pod.go's init-container-plus-shared-volume shape;
// Flowmium keeps the Rust original's choice of wrapping the pod template
// in a batchv1.Job (see SPEC_FULL §4.3) since label-selector pod
// observation is what the executor actually queries.
func buildJob(cfg JobConfig, flowID int64, taskID int, task model.Task, resolvedEnv []corev1.EnvVar) (*batchv1.Job, error) {
	inputJSON, err := json.Marshal(task.Inputs)
	if err != nil {
		return nil, fmt.Errorf("marshal inputs: %w", err)
	}
	outputJSON, err := json.Marshal(task.Outputs)
	if err != nil {
		return nil, fmt.Errorf("marshal outputs: %w", err)
	}

	entrypoint := append([]string{sharedBinMountPath + "/flowmium", "task"}, task.Cmd...)

	env := append([]corev1.EnvVar{
		{Name: "FLOWMIUM_INPUT_JSON", Value: string(inputJSON)},
		{Name: "FLOWMIUM_OUTPUT_JSON", Value: string(outputJSON)},
		{Name: "FLOWMIUM_FLOW_ID", Value: fmt.Sprintf("%d", flowID)},
		{Name: "FLOWMIUM_ACCESS_KEY", Value: cfg.AccessKey},
		{Name: "FLOWMIUM_SECRET_KEY", Value: cfg.SecretKey},
		{Name: "FLOWMIUM_BUCKET_NAME", Value: cfg.BucketName},
		{Name: "FLOWMIUM_TASK_STORE_URL", Value: cfg.TaskStoreURL},
	}, resolvedEnv...)

	labelSet := map[string]string{
		cfg.FlowIDLabel: fmt.Sprintf("%d", flowID),
		cfg.TaskIDLabel: fmt.Sprintf("%d", taskID),
	}

	name := jobName(flowID, task.Name)
	backoffLimit := int32(0)

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: cfg.Namespace,
			Labels:    labelSet,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labelSet},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Volumes: []corev1.Volume{
						{
							Name: sharedBinVolumeName,
							VolumeSource: corev1.VolumeSource{
								EmptyDir: &corev1.EmptyDirVolumeSource{
									Medium:    corev1.StorageMediumMemory,
									SizeLimit: resource.NewQuantity(64*1024*1024, resource.BinarySI),
								},
							},
						},
					},
					InitContainers: []corev1.Container{
						{
							Name:    "flowmium-init",
							Image:   cfg.InitContainerImg,
							Command: []string{"/flowmium", "init", "/flowmium", sharedBinMountPath + "/flowmium"},
							VolumeMounts: []corev1.VolumeMount{
								{Name: sharedBinVolumeName, MountPath: sharedBinMountPath},
							},
						},
					},
					Containers: []corev1.Container{
						{
							Name:    "task",
							Image:   task.Image,
							Command: entrypoint,
							Env:     env,
							VolumeMounts: []corev1.VolumeMount{
								{Name: sharedBinVolumeName, MountPath: sharedBinMountPath},
							},
						},
					},
				},
			},
		},
	}

	return job, nil
}
