package transforms

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	"github.com/kubevirt-tools/k10-vm-restore/pkg/restorepoint"
)

func baseModel() restorepoint.Model {
	return restorepoint.Model{
		Name:            "rpc-rhel9-vm-1",
		SourceVMName:    "rhel9-vm",
		SourceNamespace: "vms-prod",
		Disks:           []restorepoint.Disk{{Name: "rootdisk", RequestedSize: "20Gi", HasSnapshotArtifact: true}},
		MACs: []restorepoint.InterfaceMAC{
			{Index: 0, Address: "02:00:00:00:00:01"},
			{Index: 1, Address: "02:00:00:00:00:02"},
		},
	}
}

func baseParams() Params {
	return Params{
		FinalVMName:     "rhel9-vm",
		SourceVMName:    "rhel9-vm",
		SourceNamespace: "vms-prod",
		TargetNamespace: "vms-prod",
	}
}

func ruleByResource(t *testing.T, rules []Rule, resource string) Rule {
	t.Helper()
	for _, rule := range rules {
		if rule.Subject.Resource == resource {
			return rule
		}
	}
	t.Fatalf("no rule for resource %s", resource)
	return Rule{}
}

func TestSynthesizeOrdering(t *testing.T) {
	p := baseParams()
	p.TargetNamespace = "vms-test"
	rules := Synthesize(baseModel(), p)

	require.Len(t, rules, 4)
	assert.Equal(t, "datavolumes", rules[0].Subject.Resource)
	assert.Equal(t, restorepoint.DataVolumeGroup, rules[0].Subject.Group)
	assert.Equal(t, "persistentvolumeclaims", rules[1].Subject.Resource)
	assert.Equal(t, "virtualmachines", rules[2].Subject.Resource)
	// The broad namespace rewrite always comes last.
	assert.Equal(t, "*", rules[3].Subject.Resource)
	assert.Equal(t, []Op{{Op: "replace", Path: "/metadata/namespace", Value: "vms-test"}}, rules[3].JSON)
}

func TestSynthesizeNoNamespaceRuleWhenUnmoved(t *testing.T) {
	rules := Synthesize(baseModel(), baseParams())
	require.Len(t, rules, 3)
	for _, rule := range rules {
		assert.NotEqual(t, "*", rule.Subject.Resource)
	}
}

func TestDataVolumeRuleOps(t *testing.T) {
	rules := Synthesize(baseModel(), baseParams())
	dv := ruleByResource(t, rules, "datavolumes")

	require.Len(t, dv.JSON, 2)
	assert.Equal(t, Op{Op: "remove", Path: "/spec/source"}, dv.JSON[0])
	assert.Equal(t, "add", dv.JSON[1].Op)
	assert.Equal(t, "/metadata/annotations/cdi.kubevirt.io~1storage.populatedFor", dv.JSON[1].Path)
}

func TestStorageClassOverride(t *testing.T) {
	p := baseParams()
	p.NewStorageClass = "fast-ssd"
	rules := Synthesize(baseModel(), p)

	dv := ruleByResource(t, rules, "datavolumes")
	assert.Contains(t, dv.JSON, Op{Op: "replace", Path: "/spec/pvc/storageClassName", Value: "fast-ssd"})

	pvc := ruleByResource(t, rules, "persistentvolumeclaims")
	assert.Contains(t, pvc.JSON, Op{Op: "replace", Path: "/spec/storageClassName", Value: "fast-ssd"})
}

func TestPVCRuleMarksBound(t *testing.T) {
	pvc := ruleByResource(t, Synthesize(baseModel(), baseParams()), "persistentvolumeclaims")
	require.Len(t, pvc.JSON, 2)
	assert.Equal(t, "/metadata/annotations/cdi.kubevirt.io~1storage.condition.bound", pvc.JSON[0].Path)
	assert.Equal(t, "true", pvc.JSON[0].Value)
	assert.Equal(t, "Bound", pvc.JSON[1].Value)
}

func TestVMRuleRegenerateMACAllInterfaces(t *testing.T) {
	p := baseParams()
	p.RegenerateMAC = true
	vm := ruleByResource(t, Synthesize(baseModel(), p), "virtualmachines")

	var removes []string
	for _, op := range vm.JSON {
		if op.Op == "remove" {
			removes = append(removes, op.Path)
		}
	}
	assert.Equal(t, []string{
		"/spec/template/spec/domain/devices/interfaces/0/macAddress",
		"/spec/template/spec/domain/devices/interfaces/1/macAddress",
	}, removes)
}

func TestVMRuleAlwaysClearsTemplatesAndRenames(t *testing.T) {
	p := baseParams()
	p.FinalVMName = "rhel9-vm-clone"
	vm := ruleByResource(t, Synthesize(baseModel(), p), "virtualmachines")

	assert.Equal(t, Op{Op: "replace", Path: "/spec/dataVolumeTemplates", Value: []interface{}{}}, vm.JSON[0])
	assert.Contains(t, vm.JSON, Op{Op: "replace", Path: "/metadata/name", Value: "rhel9-vm-clone"})
}

func TestDiskResizeRules(t *testing.T) {
	p := baseParams()
	p.DiskSizes = map[string]string{"rootdisk": "40Gi", "datadisk": "100Gi"}
	rules := Synthesize(baseModel(), p)

	require.Len(t, rules, 5)
	// Resize rules follow the base DataVolume rule, sorted by disk name.
	assert.Equal(t, "^datadisk$", rules[1].Subject.ResourceNameRegex)
	assert.Equal(t, "^rootdisk$", rules[2].Subject.ResourceNameRegex)
	assert.Equal(t, "100Gi", rules[1].JSON[0].Value)
}

func TestValidateSynthesizedRules(t *testing.T) {
	p := baseParams()
	p.RegenerateMAC = true
	p.NewStorageClass = "fast-ssd"
	p.TargetNamespace = "vms-test"
	require.NoError(t, Validate(Synthesize(baseModel(), p)))
}

func TestWriteTempFilePermissionsAndContent(t *testing.T) {
	doc := NewDocument("vm-restore-transforms-x", "kasten-io", Synthesize(baseModel(), baseParams()))
	path, err := doc.WriteTempFile()
	require.NoError(t, err)
	defer os.Remove(path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded Document
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, "TransformSet", decoded.Kind)
	assert.Equal(t, "vm-restore-transforms-x", decoded.Metadata.Name)
	assert.Len(t, decoded.Spec.Transforms, 3)
}
