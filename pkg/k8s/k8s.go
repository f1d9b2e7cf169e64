// Package k8s wraps the typed and dynamic Kubernetes clients behind a
// single Client value that the workflow packages receive explicitly.
package k8s

import (
	"bytes"
	"context"
	"fmt"
	"io"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
)

// GroupVersionResources for every kind the tool touches.
var (
	VMGVR = schema.GroupVersionResource{
		Group:    "kubevirt.io",
		Version:  "v1",
		Resource: "virtualmachines",
	}
	VMIGVR = schema.GroupVersionResource{
		Group:    "kubevirt.io",
		Version:  "v1",
		Resource: "virtualmachineinstances",
	}
	DVGVR = schema.GroupVersionResource{
		Group:    "cdi.kubevirt.io",
		Version:  "v1beta1",
		Resource: "datavolumes",
	}
	VscGVR = schema.GroupVersionResource{
		Group:    "snapshot.storage.k8s.io",
		Version:  "v1",
		Resource: "volumesnapshotclasses",
	}
	RestorePointContentGVR = schema.GroupVersionResource{
		Group:    "apps.kio.kasten.io",
		Version:  "v1alpha1",
		Resource: "restorepointcontents",
	}
	RestoreActionGVR = schema.GroupVersionResource{
		Group:    "actions.kio.kasten.io",
		Version:  "v1alpha1",
		Resource: "restoreactions",
	}
	TransformSetGVR = schema.GroupVersionResource{
		Group:    "config.kio.kasten.io",
		Version:  "v1alpha1",
		Resource: "transformsets",
	}
)

// Client bundles the typed clientset, the dynamic client and a cached
// RESTMapper. Workflow code receives a *Client instead of reaching for
// package globals.
type Client struct {
	Clientset kubernetes.Interface
	Dynamic   dynamic.Interface
	Discovery discovery.DiscoveryInterface
	Mapper    meta.RESTMapper
}

// NewClient builds a Client from the given kubeconfig path, falling back
// to the recommended home location when none is given.
func NewClient(kubeconfig string) (*Client, error) {
	var config *rest.Config
	var err error
	if kubeconfig != "" {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
	}
	if err != nil {
		return nil, fmt.Errorf("error building kubeconfig: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("error creating clientset: %w", err)
	}
	dynamicClient, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("error creating dynamic client: %w", err)
	}
	discoveryClient, err := discovery.NewDiscoveryClientForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("error creating discovery client: %w", err)
	}
	return &Client{
		Clientset: clientset,
		Dynamic:   dynamicClient,
		Discovery: discoveryClient,
		Mapper:    restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(discoveryClient)),
	}, nil
}

// GetRestorePointContent fetches a cluster-scoped RestorePointContent.
func (c *Client) GetRestorePointContent(ctx context.Context, name string) (*unstructured.Unstructured, error) {
	return c.Dynamic.Resource(RestorePointContentGVR).Get(ctx, name, metav1.GetOptions{})
}

// ListRestorePointContents lists every restore point in the cluster.
func (c *Client) ListRestorePointContents(ctx context.Context) ([]unstructured.Unstructured, error) {
	list, err := c.Dynamic.Resource(RestorePointContentGVR).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing restore point contents: %w", err)
	}
	return list.Items, nil
}

// ListVirtualMachines lists all VMs across namespaces in one call.
func (c *Client) ListVirtualMachines(ctx context.Context) ([]unstructured.Unstructured, error) {
	list, err := c.Dynamic.Resource(VMGVR).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing virtual machines: %w", err)
	}
	return list.Items, nil
}

// VMExists reports whether a VirtualMachine exists in the namespace.
func (c *Client) VMExists(ctx context.Context, namespace, name string) (bool, error) {
	_, err := c.Dynamic.Resource(VMGVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("getting VirtualMachine %s/%s: %w", namespace, name, err)
	}
	return true, nil
}

// GetVM fetches a VirtualMachine object.
func (c *Client) GetVM(ctx context.Context, namespace, name string) (*unstructured.Unstructured, error) {
	return c.Dynamic.Resource(VMGVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
}

// VMIExists reports whether the runtime instance object exists.
func (c *Client) VMIExists(ctx context.Context, namespace, name string) (bool, error) {
	_, err := c.Dynamic.Resource(VMIGVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("getting VirtualMachineInstance %s/%s: %w", namespace, name, err)
	}
	return true, nil
}

// PatchVMRunning flips spec.running on a VirtualMachine.
func (c *Client) PatchVMRunning(ctx context.Context, namespace, name string, running bool) error {
	patch := []byte(fmt.Sprintf(`[{"op":"replace","path":"/spec/running","value":%t}]`, running))
	_, err := c.Dynamic.Resource(VMGVR).Namespace(namespace).Patch(ctx, name, types.JSONPatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("patching VirtualMachine %s/%s running=%t: %w", namespace, name, running, err)
	}
	return nil
}

// GetDataVolumePhase returns status.phase of a DataVolume, or "" when the
// object or the field is absent.
func (c *Client) GetDataVolumePhase(ctx context.Context, namespace, name string) (string, error) {
	dv, err := c.Dynamic.Resource(DVGVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("getting DataVolume %s/%s: %w", namespace, name, err)
	}
	phase, _, _ := unstructured.NestedString(dv.Object, "status", "phase")
	return phase, nil
}

// GetPVCPhase returns the phase of a PVC, or "" when it does not exist.
func (c *Client) GetPVCPhase(ctx context.Context, namespace, name string) (string, error) {
	pvc, err := c.Clientset.CoreV1().PersistentVolumeClaims(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("getting PVC %s/%s: %w", namespace, name, err)
	}
	return string(pvc.Status.Phase), nil
}

// NamespaceExists reports whether the namespace exists.
func (c *Client) NamespaceExists(ctx context.Context, name string) (bool, error) {
	_, err := c.Clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("getting namespace %s: %w", name, err)
	}
	return true, nil
}

// EnsureNamespace creates the namespace if it does not exist.
func (c *Client) EnsureNamespace(ctx context.Context, name string) error {
	_, err := c.Clientset.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("getting namespace %s: %w", name, err)
	}
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
	if _, err := c.Clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("creating namespace %s: %w", name, err)
	}
	return nil
}

// StorageClassExists reports whether the named StorageClass exists.
func (c *Client) StorageClassExists(ctx context.Context, name string) (bool, error) {
	_, err := c.Clientset.StorageV1().StorageClasses().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("getting StorageClass %s: %w", name, err)
	}
	return true, nil
}

// HasVolumeSnapshotClass reports whether any VolumeSnapshotClass exists.
func (c *Client) HasVolumeSnapshotClass(ctx context.Context) (bool, error) {
	list, err := c.Dynamic.Resource(VscGVR).List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		return false, err
	}
	return len(list.Items) > 0, nil
}

// CRDPresent checks through discovery whether a resource is served.
func (c *Client) CRDPresent(groupVersion, resource string) (bool, error) {
	resources, err := c.Discovery.ServerResourcesForGroupVersion(groupVersion)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("discovering %s: %w", groupVersion, err)
	}
	for _, r := range resources.APIResources {
		if r.Name == resource {
			return true, nil
		}
	}
	return false, nil
}

// QuotaReport lists the resource quotas of a namespace for informational
// output during validation.
func (c *Client) QuotaReport(ctx context.Context, namespace string) ([]string, error) {
	quotas, err := c.Clientset.CoreV1().ResourceQuotas(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing quotas in %s: %w", namespace, err)
	}
	var lines []string
	for _, q := range quotas.Items {
		for name, hard := range q.Status.Hard {
			used := q.Status.Used[name]
			lines = append(lines, fmt.Sprintf("%s: %s used of %s (%s)", name, used.String(), hard.String(), q.Name))
		}
	}
	return lines, nil
}

// ApplyDocument decodes a YAML or JSON multi-document stream and creates
// each object, updating in place when it already exists. Objects without a
// namespace are placed into defaultNamespace when their kind is namespaced.
func (c *Client) ApplyDocument(ctx context.Context, data []byte, defaultNamespace string) error {
	decoder := yaml.NewYAMLOrJSONDecoder(bytes.NewReader(data), 4096)
	for {
		var obj unstructured.Unstructured
		err := decoder.Decode(&obj)
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("error decoding document: %w", err)
		}
		if len(obj.Object) == 0 {
			continue
		}
		if obj.GetNamespace() == "" && defaultNamespace != "" {
			obj.SetNamespace(defaultNamespace)
		}
		gvk := obj.GroupVersionKind()
		mapping, err := c.Mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
		if err != nil {
			return fmt.Errorf("failed to get REST mapping for %v: %w", gvk, err)
		}
		var dr dynamic.ResourceInterface
		if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
			dr = c.Dynamic.Resource(mapping.Resource).Namespace(obj.GetNamespace())
		} else {
			dr = c.Dynamic.Resource(mapping.Resource)
		}
		_, err = dr.Create(ctx, &obj, metav1.CreateOptions{})
		if err != nil {
			if apierrors.IsAlreadyExists(err) {
				existing, err := dr.Get(ctx, obj.GetName(), metav1.GetOptions{})
				if err != nil {
					return fmt.Errorf("failed to get existing object %s: %w", obj.GetName(), err)
				}
				obj.SetResourceVersion(existing.GetResourceVersion())
				_, err = dr.Update(ctx, &obj, metav1.UpdateOptions{})
				if err != nil {
					return fmt.Errorf("failed to update object %s: %w", obj.GetName(), err)
				}
			} else {
				return fmt.Errorf("failed to create object %s: %w", obj.GetName(), err)
			}
		}
	}
	return nil
}

// DeleteTransformSet removes a TransformSet if it exists.
func (c *Client) DeleteTransformSet(ctx context.Context, namespace, name string) error {
	err := c.Dynamic.Resource(TransformSetGVR).Namespace(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting TransformSet %s/%s: %w", namespace, name, err)
	}
	return nil
}

// DeleteRestoreAction removes a RestoreAction if it exists.
func (c *Client) DeleteRestoreAction(ctx context.Context, namespace, name string) error {
	err := c.Dynamic.Resource(RestoreActionGVR).Namespace(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting RestoreAction %s/%s: %w", namespace, name, err)
	}
	return nil
}

// RestoreActionExists reports whether the named RestoreAction exists.
func (c *Client) RestoreActionExists(ctx context.Context, namespace, name string) (bool, error) {
	_, err := c.Dynamic.Resource(RestoreActionGVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("getting RestoreAction %s/%s: %w", namespace, name, err)
	}
	return true, nil
}

// CreateRestoreAction submits a RestoreAction object.
func (c *Client) CreateRestoreAction(ctx context.Context, action *unstructured.Unstructured) error {
	_, err := c.Dynamic.Resource(RestoreActionGVR).Namespace(action.GetNamespace()).Create(ctx, action, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("creating RestoreAction %s/%s: %w", action.GetNamespace(), action.GetName(), err)
	}
	return nil
}

// GetRestoreAction returns the RestoreAction's status.state along with the
// full object, which is dumped on failure for diagnostics.
func (c *Client) GetRestoreAction(ctx context.Context, namespace, name string) (string, *unstructured.Unstructured, error) {
	obj, err := c.Dynamic.Resource(RestoreActionGVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", nil, fmt.Errorf("getting RestoreAction %s/%s: %w", namespace, name, err)
	}
	state, _, _ := unstructured.NestedString(obj.Object, "status", "state")
	return state, obj, nil
}
