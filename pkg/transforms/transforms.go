// Package transforms synthesizes the K10 TransformSet document that makes
// CDI accept K10-restored disks: DataVolumes are marked pre-populated, PVCs
// pre-bound, dataVolumeTemplates cleared, and optionally MACs regenerated,
// the VM renamed and every resource retargeted to a new namespace.
package transforms

import (
	"encoding/json"
	"fmt"
	"sort"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/kubevirt-tools/k10-vm-restore/pkg/restorepoint"
)

// populatedForValue templates to the restored object's own name, which is
// the PVC name CDI checks against the populatedFor annotation.
const populatedForValue = "{{ .Object.metadata.name }}"

// Op is a single RFC 6902 patch operation. Annotation keys embed '/' and
// must be escaped as '~1' in Path by the caller.
type Op struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// Subject selects which restored resources a rule applies to.
type Subject struct {
	Resource          string `json:"resource"`
	Group             string `json:"group,omitempty"`
	ResourceNameRegex string `json:"resourceNameRegex"`
}

// Rule is one transform entry: a subject match plus its ordered patch ops.
type Rule struct {
	Name    string  `json:"name"`
	Subject Subject `json:"subject"`
	JSON    []Op    `json:"json"`
}

// Params is the slice of the restore options the synthesizer consumes.
type Params struct {
	// FinalVMName is the post-conflict-resolution VM name. A rename rule
	// is emitted only when it differs from the source VM name.
	FinalVMName     string
	SourceVMName    string
	SourceNamespace string
	TargetNamespace string
	NewStorageClass string
	RegenerateMAC   bool
	// DiskSizes maps DataVolume names to replacement storage requests.
	DiskSizes map[string]string
}

// Synthesize builds the ordered rule list for a restore. Kind-scoped rules
// come first and the broad namespace rewrite last, so a transform engine
// applying rules in document order resolves resource-scoped matches before
// the wildcard one.
func Synthesize(model restorepoint.Model, p Params) []Rule {
	rules := []Rule{dataVolumeRule(p)}
	rules = append(rules, diskResizeRules(p)...)
	rules = append(rules, pvcRule(p), vmRule(model, p))
	if p.TargetNamespace != "" && p.TargetNamespace != p.SourceNamespace {
		rules = append(rules, namespaceRule(p.TargetNamespace))
	}
	return rules
}

func dataVolumeRule(p Params) Rule {
	ops := []Op{
		{Op: "remove", Path: "/spec/source"},
		{Op: "add", Path: "/metadata/annotations/cdi.kubevirt.io~1storage.populatedFor", Value: populatedForValue},
	}
	if p.NewStorageClass != "" {
		ops = append(ops, Op{Op: "replace", Path: "/spec/pvc/storageClassName", Value: p.NewStorageClass})
	}
	return Rule{
		Name: "datavolume-populated",
		Subject: Subject{
			Resource:          "datavolumes",
			Group:             restorepoint.DataVolumeGroup,
			ResourceNameRegex: ".*",
		},
		JSON: ops,
	}
}

// diskResizeRules emits one exact-name DataVolume rule per resized disk,
// ordered by disk name for a stable document.
func diskResizeRules(p Params) []Rule {
	if len(p.DiskSizes) == 0 {
		return nil
	}
	disks := make([]string, 0, len(p.DiskSizes))
	for name := range p.DiskSizes {
		disks = append(disks, name)
	}
	sort.Strings(disks)

	rules := make([]Rule, 0, len(disks))
	for _, disk := range disks {
		rules = append(rules, Rule{
			Name: "datavolume-resize-" + disk,
			Subject: Subject{
				Resource:          "datavolumes",
				Group:             restorepoint.DataVolumeGroup,
				ResourceNameRegex: "^" + disk + "$",
			},
			JSON: []Op{
				{Op: "replace", Path: "/spec/pvc/resources/requests/storage", Value: p.DiskSizes[disk]},
			},
		})
	}
	return rules
}

func pvcRule(p Params) Rule {
	ops := []Op{
		{Op: "add", Path: "/metadata/annotations/cdi.kubevirt.io~1storage.condition.bound", Value: "true"},
		{Op: "add", Path: "/metadata/annotations/cdi.kubevirt.io~1storage.condition.bound.reason", Value: "Bound"},
	}
	if p.NewStorageClass != "" {
		ops = append(ops, Op{Op: "replace", Path: "/spec/storageClassName", Value: p.NewStorageClass})
	}
	return Rule{
		Name: "pvc-bound",
		Subject: Subject{
			Resource:          "persistentvolumeclaims",
			ResourceNameRegex: ".*",
		},
		JSON: ops,
	}
}

func vmRule(model restorepoint.Model, p Params) Rule {
	// Restored DataVolumes already exist; leaving dataVolumeTemplates in
	// place would make the VM controller re-import every disk.
	ops := []Op{
		{Op: "replace", Path: "/spec/dataVolumeTemplates", Value: []interface{}{}},
	}
	if p.RegenerateMAC {
		// One remove per interface that carried a MAC, at its original
		// index, not just interface 0.
		for _, mac := range model.MACs {
			ops = append(ops, Op{
				Op:   "remove",
				Path: fmt.Sprintf("/spec/template/spec/domain/devices/interfaces/%d/macAddress", mac.Index),
			})
		}
	}
	if p.FinalVMName != "" && p.FinalVMName != p.SourceVMName {
		ops = append(ops, Op{Op: "replace", Path: "/metadata/name", Value: p.FinalVMName})
	}
	return Rule{
		Name: "virtualmachine-detach-templates",
		Subject: Subject{
			Resource:          "virtualmachines",
			Group:             restorepoint.VirtualMachineGroup,
			ResourceNameRegex: ".*",
		},
		JSON: ops,
	}
}

// namespaceRule rewrites metadata.namespace on every restored resource.
// The match is deliberately unrestricted so nothing escapes retargeting.
func namespaceRule(target string) Rule {
	return Rule{
		Name: "namespace-retarget",
		Subject: Subject{
			Resource:          "*",
			ResourceNameRegex: ".*",
		},
		JSON: []Op{
			{Op: "replace", Path: "/metadata/namespace", Value: target},
		},
	}
}

// Validate checks that every rule's op list decodes as a well-formed RFC
// 6902 patch before it is handed to the cluster.
func Validate(rules []Rule) error {
	for _, rule := range rules {
		raw, err := json.Marshal(rule.JSON)
		if err != nil {
			return fmt.Errorf("marshaling ops for rule %s: %w", rule.Name, err)
		}
		if _, err := jsonpatch.DecodePatch(raw); err != nil {
			return fmt.Errorf("rule %s is not a valid JSON patch: %w", rule.Name, err)
		}
	}
	return nil
}
