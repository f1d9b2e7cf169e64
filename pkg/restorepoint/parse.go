package restorepoint

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Parse builds a Model from a raw RestorePointContent document. It is a
// total function: malformed or partial documents degrade to the documented
// defaults ("unknown", "N/A", false, empty slice) instead of failing.
func Parse(doc map[string]interface{}) Model {
	model := Model{
		SourceVMName:    "unknown",
		SourceNamespace: "unknown",
		Disks:           []Disk{},
		VMResources:     Resources{CPUCores: "N/A", Memory: "N/A"},
	}
	if doc == nil {
		return model
	}

	if name, found, _ := unstructured.NestedString(doc, "metadata", "name"); found {
		model.Name = name
	}
	labels, _, _ := unstructured.NestedStringMap(doc, "metadata", "labels")
	if v := labels[AppNameLabel]; v != "" {
		model.SourceVMName = v
	}
	if v := labels[AppNamespaceLabel]; v != "" {
		model.SourceNamespace = v
	}

	if enabled, found, _ := unstructured.NestedBool(doc, "spec", "exportData", "enabled"); found {
		model.Available.Export = enabled
	}

	artifacts, _, _ := unstructured.NestedSlice(doc, "status", "artifacts")
	for _, entry := range artifacts {
		artifact, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		group, _, _ := unstructured.NestedString(artifact, "resourceGroup")
		kind, _, _ := unstructured.NestedString(artifact, "resourceKind")
		switch {
		case group == DataVolumeGroup && kind == DataVolumeKind:
			model.Disks = append(model.Disks, parseDisk(artifact))
		case group == VirtualMachineGroup && kind == VirtualMachineKind:
			model.HasVMArtifact = true
			parseVMArtifact(artifact, &model)
		}
	}

	for _, disk := range model.Disks {
		if disk.HasSnapshotArtifact {
			model.Available.Snapshot = true
			break
		}
	}
	return model
}

// ParseObject is a convenience wrapper for objects fetched dynamically.
func ParseObject(obj *unstructured.Unstructured) Model {
	if obj == nil {
		return Parse(nil)
	}
	return Parse(obj.Object)
}

// snapshotSpec extracts the spec of an artifact's captured object. The
// snapshot is recorded either directly under specSnapshot.spec or wrapped a
// level deeper under specSnapshot.metadata.spec; both shapes occur in
// practice and must be accepted.
func snapshotSpec(artifact map[string]interface{}) map[string]interface{} {
	if spec, found, _ := unstructured.NestedMap(artifact, "specSnapshot", "spec"); found {
		return spec
	}
	if spec, found, _ := unstructured.NestedMap(artifact, "specSnapshot", "metadata", "spec"); found {
		return spec
	}
	return nil
}

// snapshotMeta extracts the captured object metadata, tolerating the same
// two wrapper shapes as snapshotSpec.
func snapshotMeta(artifact map[string]interface{}) map[string]interface{} {
	if meta, found, _ := unstructured.NestedMap(artifact, "specSnapshot", "metadata", "metadata"); found {
		return meta
	}
	if meta, found, _ := unstructured.NestedMap(artifact, "specSnapshot", "metadata"); found {
		return meta
	}
	return nil
}

func parseDisk(artifact map[string]interface{}) Disk {
	disk := Disk{RequestedSize: "Unknown"}
	if name, found, _ := unstructured.NestedString(artifact, "resourceName"); found {
		disk.Name = name
	}
	// An explicit null marker counts as absent.
	if v, found, _ := unstructured.NestedFieldNoCopy(artifact, "volumeSnapshot"); found && v != nil {
		disk.HasSnapshotArtifact = true
	}
	if spec := snapshotSpec(artifact); spec != nil {
		if size := stringField(spec, "pvc", "resources", "requests", "storage"); size != "" {
			disk.RequestedSize = size
		}
	}
	return disk
}

func parseVMArtifact(artifact map[string]interface{}, model *Model) {
	spec := snapshotSpec(artifact)
	if spec == nil {
		return
	}
	if running, found, _ := unstructured.NestedBool(spec, "running"); found {
		model.VMRunningAtBackup = running
	}
	if cores := stringField(spec, "template", "spec", "domain", "cpu", "cores"); cores != "" {
		model.VMResources.CPUCores = cores
	}
	if mem := stringField(spec, "template", "spec", "domain", "resources", "requests", "memory"); mem != "" {
		model.VMResources.Memory = mem
	}

	// Every interface is inspected, not just the first one. A VM with
	// multiple NICs carries one MAC per interface and all of them matter
	// for MAC regeneration.
	ifaces, _, _ := unstructured.NestedSlice(spec, "template", "spec", "domain", "devices", "interfaces")
	for i, entry := range ifaces {
		iface, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if mac, found, _ := unstructured.NestedString(iface, "macAddress"); found && mac != "" {
			model.MACs = append(model.MACs, InterfaceMAC{Index: i, Address: mac})
		}
	}

	if meta := snapshotMeta(artifact); meta != nil {
		annotations, _, _ := unstructured.NestedStringMap(meta, "annotations")
		if _, ok := annotations[BlueprintAnnotation]; ok {
			model.FreezePresent = true
		}
	}
}

// stringField reads a nested value and renders it as a string regardless of
// whether the document carried it as a string or a number.
func stringField(doc map[string]interface{}, fields ...string) string {
	value, found, err := unstructured.NestedFieldNoCopy(doc, fields...)
	if err != nil || !found || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
