package orchestrator

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// RestoreAction API coordinates.
const (
	RestoreActionAPIVersion = "actions.kio.kasten.io/v1alpha1"
	RestoreActionKind       = "RestoreAction"
)

// buildRestoreAction constructs the action object that instructs the
// backup platform to materialize the restore point into the target
// namespace with the named transform set applied.
func buildRestoreAction(name, targetNamespace, restorePoint, transformSet, k10Namespace string) *unstructured.Unstructured {
	return &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": RestoreActionAPIVersion,
			"kind":       RestoreActionKind,
			"metadata": map[string]interface{}{
				"name":      name,
				"namespace": targetNamespace,
			},
			"spec": map[string]interface{}{
				"subject": map[string]interface{}{
					"namespace":               targetNamespace,
					"restorePointContentName": restorePoint,
				},
				"transforms": []interface{}{
					map[string]interface{}{
						"name":      transformSet,
						"namespace": k10Namespace,
					},
				},
			},
		},
	}
}
