package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func vmDoc(namespace, name string) unstructured.Unstructured {
	return unstructured.Unstructured{Object: map[string]interface{}{
		"metadata": map[string]interface{}{"name": name, "namespace": namespace},
	}}
}

func rpcDoc(name, appName, appNamespace string, withVMArtifact bool) unstructured.Unstructured {
	var artifacts []interface{}
	if withVMArtifact {
		artifacts = append(artifacts, map[string]interface{}{
			"resourceGroup": "kubevirt.io",
			"resourceKind":  "virtualmachines",
			"resourceName":  appName,
		})
	}
	return unstructured.Unstructured{Object: map[string]interface{}{
		"metadata": map[string]interface{}{
			"name": name,
			"labels": map[string]interface{}{
				"k10.kasten.io/appName":      appName,
				"k10.kasten.io/appNamespace": appNamespace,
			},
		},
		"status": map[string]interface{}{"artifacts": artifacts},
	}}
}

type fakeLister struct {
	restorePoints []unstructured.Unstructured
	vms           []unstructured.Unstructured
	vmListCalls   int
}

func (f *fakeLister) ListRestorePointContents(ctx context.Context) ([]unstructured.Unstructured, error) {
	return f.restorePoints, nil
}

func (f *fakeLister) ListVirtualMachines(ctx context.Context) ([]unstructured.Unstructured, error) {
	f.vmListCalls++
	return f.vms, nil
}

func TestClassifyKeepsVMRelatedInInputOrder(t *testing.T) {
	docs := []unstructured.Unstructured{
		rpcDoc("rpc-a", "vm-a", "prod", true),
		rpcDoc("rpc-pg", "postgres", "prod", false), // not VM-related
		rpcDoc("rpc-b", "vm-b", "prod", false),      // VM-related via the active index
		rpcDoc("rpc-c", "vm-c", "prod", true),
	}
	index := BuildVMIndex([]unstructured.Unstructured{vmDoc("prod", "vm-b")})

	out := Classify(docs, index, Options{})
	require.Len(t, out, 3)
	assert.Equal(t, "rpc-a", out[0].Model.Name)
	assert.Equal(t, "rpc-b", out[1].Model.Name)
	assert.Equal(t, "rpc-c", out[2].Model.Name)

	assert.True(t, out[0].Deleted, "vm-a has no active VM")
	assert.False(t, out[1].Deleted)
	assert.True(t, out[2].Deleted)
}

func TestClassifyDeletedOnly(t *testing.T) {
	docs := []unstructured.Unstructured{
		rpcDoc("rpc-a", "vm-a", "prod", true),
		rpcDoc("rpc-b", "vm-b", "prod", true),
	}
	index := BuildVMIndex([]unstructured.Unstructured{vmDoc("prod", "vm-b")})

	out := Classify(docs, index, Options{DeletedOnly: true})
	require.Len(t, out, 1)
	assert.Equal(t, "rpc-a", out[0].Model.Name)
}

func TestVMIndexIsNamespaceScoped(t *testing.T) {
	index := BuildVMIndex([]unstructured.Unstructured{vmDoc("prod", "web")})
	assert.True(t, index.Has("prod", "web"))
	assert.False(t, index.Has("staging", "web"))
	assert.False(t, index.Has("prod", "other"))
}

func TestRunPerformsSingleBulkVMFetch(t *testing.T) {
	lister := &fakeLister{vms: []unstructured.Unstructured{vmDoc("prod", "vm-1")}}
	for i := 0; i < 100; i++ {
		lister.restorePoints = append(lister.restorePoints, rpcDoc("rpc", "vm", "prod", true))
	}

	out, err := Run(context.Background(), lister, Options{})
	require.NoError(t, err)
	assert.Len(t, out, 100)
	assert.Equal(t, 1, lister.vmListCalls, "classification must use one bulk VM fetch, never per-item lookups")
}

func TestSummaryRendering(t *testing.T) {
	doc := rpcDoc("rpc-a", "vm-a", "prod", true)
	out := Classify([]unstructured.Unstructured{doc}, VMIndex{}, Options{})
	require.Len(t, out, 1)

	summary := out[0].Summary()
	assert.Contains(t, summary, "rpc-a")
	assert.Contains(t, summary, "prod/vm-a")
	assert.Contains(t, summary, "Deleted")
	assert.Contains(t, summary, "No VM disks found")
	assert.Contains(t, summary, "Restore methods: none")
}
