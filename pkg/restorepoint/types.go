package restorepoint

// Artifact group/kind pairs recorded inside a restore point's detail tree.
const (
	DataVolumeGroup = "cdi.kubevirt.io"
	DataVolumeKind  = "datavolumes"

	VirtualMachineGroup = "kubevirt.io"
	VirtualMachineKind  = "virtualmachines"
)

// K10 labels carrying the source application identity.
const (
	AppNameLabel      = "k10.kasten.io/appName"
	AppNamespaceLabel = "k10.kasten.io/appNamespace"
)

// BlueprintAnnotation marks a VM whose backup ran under a freeze blueprint.
const BlueprintAnnotation = "kanister.kasten.io/blueprint"

// Disk is one DataVolume artifact found in the restore point.
type Disk struct {
	Name string
	// RequestedSize is the PVC storage request, "Unknown" when the
	// artifact does not carry one.
	RequestedSize string
	// HasSnapshotArtifact reports whether a volume snapshot was captured
	// alongside the disk, which enables snapshot-based restore.
	HasSnapshotArtifact bool
}

// InterfaceMAC records a MAC address together with the interface index it
// was found at, so transforms can target the exact spec position.
type InterfaceMAC struct {
	Index   int
	Address string
}

// Resources holds the VM's compute requests, "N/A" when absent.
type Resources struct {
	CPUCores string
	Memory   string
}

// Methods reports which restore paths the restore point supports.
type Methods struct {
	Snapshot bool
	Export   bool
}

// List renders the available methods for display.
func (m Methods) List() []string {
	var out []string
	if m.Snapshot {
		out = append(out, "Snapshot")
	}
	if m.Export {
		out = append(out, "Export")
	}
	return out
}

// Model is the structured, read-only view of one restore point. It is built
// once per invocation by Parse and never mutated afterwards.
type Model struct {
	Name            string
	SourceVMName    string
	SourceNamespace string

	// Disks is never nil; an empty slice means no VM disks were found.
	Disks []Disk

	VMRunningAtBackup bool
	VMResources       Resources
	MACs              []InterfaceMAC

	FreezePresent bool
	Available     Methods

	// HasVMArtifact reports whether a VirtualMachine-kind artifact was
	// present in the detail tree.
	HasVMArtifact bool
}

// MACAddresses returns the addresses in interface order.
func (m Model) MACAddresses() []string {
	out := make([]string, 0, len(m.MACs))
	for _, mac := range m.MACs {
		out = append(out, mac.Address)
	}
	return out
}
