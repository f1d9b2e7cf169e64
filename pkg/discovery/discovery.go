// Package discovery lists restore points and classifies them against the
// cluster's active VMs for the list mode of the CLI.
package discovery

import (
	"context"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kubevirt-tools/k10-vm-restore/pkg/restorepoint"
)

// Lister is the slice of the cluster API discovery needs: one bulk fetch
// per resource, never per-item lookups.
type Lister interface {
	ListRestorePointContents(ctx context.Context) ([]unstructured.Unstructured, error)
	ListVirtualMachines(ctx context.Context) ([]unstructured.Unstructured, error)
}

// Options filters the classification output.
type Options struct {
	// DeletedOnly keeps only restore points whose VM no longer exists.
	DeletedOnly bool
}

// VMIndex is a set of active VMs keyed by namespace/name, built once per
// invocation from a single list call. Lookups are O(1); classification
// must never issue one existence call per restore point.
type VMIndex map[string]struct{}

// BuildVMIndex builds the index from a bulk VM list.
func BuildVMIndex(vms []unstructured.Unstructured) VMIndex {
	index := make(VMIndex, len(vms))
	for _, vm := range vms {
		index[vm.GetNamespace()+"/"+vm.GetName()] = struct{}{}
	}
	return index
}

// Has reports whether the VM namespace/name is active.
func (idx VMIndex) Has(namespace, name string) bool {
	_, ok := idx[namespace+"/"+name]
	return ok
}

// Classified is one VM-related restore point with its activity state.
type Classified struct {
	Model restorepoint.Model
	// Deleted is set when no active VM matches the restore point's
	// source namespace and name.
	Deleted bool
}

// Classify walks the restore point documents in input order, keeps the
// VM-related ones and marks each as deleted or active. A document is
// VM-related when it carries a VirtualMachine artifact or its source
// (namespace, name) pair matches an active VM.
func Classify(docs []unstructured.Unstructured, index VMIndex, opts Options) []Classified {
	var out []Classified
	for i := range docs {
		model := restorepoint.ParseObject(&docs[i])
		active := index.Has(model.SourceNamespace, model.SourceVMName)
		if !model.HasVMArtifact && !active {
			continue
		}
		if opts.DeletedOnly && active {
			continue
		}
		out = append(out, Classified{Model: model, Deleted: !active})
	}
	return out
}

// Run performs the two bulk fetches and classifies the result.
func Run(ctx context.Context, lister Lister, opts Options) ([]Classified, error) {
	docs, err := lister.ListRestorePointContents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing restore points: %w", err)
	}
	vms, err := lister.ListVirtualMachines(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active VMs: %w", err)
	}
	return Classify(docs, BuildVMIndex(vms), opts), nil
}

// Summary renders one restore point for console output. It is a pure
// projection of the model.
func (c Classified) Summary() string {
	m := c.Model
	var b strings.Builder

	state := "Active"
	if c.Deleted {
		state = "Deleted"
	}
	fmt.Fprintf(&b, "%s  (VM %s/%s, %s)\n", m.Name, m.SourceNamespace, m.SourceVMName, state)

	running := "stopped"
	if m.VMRunningAtBackup {
		running = "running"
	}
	fmt.Fprintf(&b, "  VM was %s at backup, cpu=%s memory=%s\n", running, m.VMResources.CPUCores, m.VMResources.Memory)

	if len(m.Disks) == 0 {
		b.WriteString("  No VM disks found\n")
	}
	for _, disk := range m.Disks {
		snap := "no snapshot"
		if disk.HasSnapshotArtifact {
			snap = "snapshot"
		}
		fmt.Fprintf(&b, "  Disk %s  size=%s  (%s)\n", disk.Name, disk.RequestedSize, snap)
	}

	if macs := m.MACAddresses(); len(macs) > 0 {
		fmt.Fprintf(&b, "  MAC addresses preserved: %s\n", strings.Join(macs, ", "))
	}
	if m.FreezePresent {
		b.WriteString("  Filesystem freeze blueprint was attached\n")
	}

	methods := m.Available.List()
	if len(methods) == 0 {
		b.WriteString("  Restore methods: none\n")
	} else {
		fmt.Fprintf(&b, "  Restore methods: %s\n", strings.Join(methods, ", "))
	}
	return b.String()
}
