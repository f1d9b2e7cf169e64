package orchestrator

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Cluster is the slice of the cluster API the orchestrator needs.
// *k8s.Client satisfies it; tests supply a fake.
type Cluster interface {
	GetRestorePointContent(ctx context.Context, name string) (*unstructured.Unstructured, error)

	VMExists(ctx context.Context, namespace, name string) (bool, error)
	GetVM(ctx context.Context, namespace, name string) (*unstructured.Unstructured, error)
	VMIExists(ctx context.Context, namespace, name string) (bool, error)
	PatchVMRunning(ctx context.Context, namespace, name string, running bool) error

	GetDataVolumePhase(ctx context.Context, namespace, name string) (string, error)
	GetPVCPhase(ctx context.Context, namespace, name string) (string, error)

	NamespaceExists(ctx context.Context, name string) (bool, error)
	EnsureNamespace(ctx context.Context, name string) error
	StorageClassExists(ctx context.Context, name string) (bool, error)
	HasVolumeSnapshotClass(ctx context.Context) (bool, error)
	CRDPresent(groupVersion, resource string) (bool, error)
	QuotaReport(ctx context.Context, namespace string) ([]string, error)

	ApplyDocument(ctx context.Context, data []byte, defaultNamespace string) error
	DeleteTransformSet(ctx context.Context, namespace, name string) error
	DeleteRestoreAction(ctx context.Context, namespace, name string) error
	RestoreActionExists(ctx context.Context, namespace, name string) (bool, error)
	CreateRestoreAction(ctx context.Context, action *unstructured.Unstructured) error
	GetRestoreAction(ctx context.Context, namespace, name string) (string, *unstructured.Unstructured, error)
}

// DefaultK10Namespace is where K10 and its TransformSets live.
const DefaultK10Namespace = "kasten-io"

// Default timings for the polling phases.
const (
	DefaultPollInterval  = 10 * time.Second
	DefaultActionTimeout = 600 * time.Second
	DefaultAppearTimeout = 300 * time.Second
	DefaultSettleDelay   = 5 * time.Second
)

// Options is the immutable user intent for one restore invocation.
type Options struct {
	// RestorePoint is the RestorePointContent name. Required.
	RestorePoint string

	// VMName overrides the VM name extracted from restore point labels.
	VMName string
	// SourceNamespace overrides the namespace extracted from labels.
	SourceNamespace string
	// TargetNamespace is where the VM is restored. Defaults to the
	// source namespace.
	TargetNamespace string

	RegenerateMAC   bool
	StorageClass    string
	DiskSizes       map[string]string
	NoStart         bool
	CloneOnConflict bool
	Force           bool
	AutoConfirm     bool

	// TransformsFile, when set, is applied verbatim instead of the
	// synthesized transform document.
	TransformsFile string

	DryRun       bool
	ValidateOnly bool

	// K10Namespace defaults to kasten-io.
	K10Namespace string
	// ActionTimeout bounds the Monitoring phase. Defaults to 600s.
	ActionTimeout time.Duration
}
