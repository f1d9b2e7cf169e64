// Package orchestrator drives a restore point through namespace, transform
// and action creation, monitors the action to a terminal state, and
// verifies the restored VM. It is a sequential, single-invocation state
// machine; concurrent invocations are separate OS processes and are not
// serialized here.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kubevirt-tools/k10-vm-restore/pkg/logutil"
	"github.com/kubevirt-tools/k10-vm-restore/pkg/names"
	"github.com/kubevirt-tools/k10-vm-restore/pkg/restorepoint"
	"github.com/kubevirt-tools/k10-vm-restore/pkg/transforms"
)

// Terminal states reported by the restore action.
const (
	actionStateComplete = "Complete"
	actionStateFailed   = "Failed"
)

// Orchestrator runs restore invocations against a Cluster.
type Orchestrator struct {
	Cluster Cluster
	Confirm logutil.ConfirmFunc

	PollInterval  time.Duration
	AppearTimeout time.Duration
	SettleDelay   time.Duration
}

// New returns an Orchestrator with the default timings and the
// interactive confirmation prompt.
func New(cluster Cluster) *Orchestrator {
	return &Orchestrator{
		Cluster:       cluster,
		Confirm:       logutil.Confirm,
		PollInterval:  DefaultPollInterval,
		AppearTimeout: DefaultAppearTimeout,
		SettleDelay:   DefaultSettleDelay,
	}
}

// Run executes the restore described by opts. The returned Session records
// the final phase and accumulated warnings; a nil error means the run
// ended in Succeeded (or one of the validate-only / dry-run exits).
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Session, error) {
	s := newSession()
	k10NS := opts.K10Namespace
	if k10NS == "" {
		k10NS = DefaultK10Namespace
	}

	if err := o.resolveContext(ctx, s, opts); err != nil {
		s.advance(PhaseFailed)
		return s, err
	}
	if err := o.validate(ctx, s, opts); err != nil {
		s.advance(PhaseFailed)
		return s, err
	}
	if opts.ValidateOnly {
		s.advance(PhaseValidateOnlyExit)
		logutil.Successf("Validation passed for restore point %s", opts.RestorePoint)
		return s, nil
	}

	o.computeNames(s, opts)

	shortCircuit, err := o.conflictCheck(ctx, s, opts)
	if err != nil {
		s.advance(PhaseFailed)
		return s, err
	}
	if shortCircuit {
		// The VM already exists and cloning was not requested: an
		// idempotent no-op, verified and reported as success.
		s.SkippedToVerify = true
		if err := o.verify(ctx, s); err != nil {
			s.advance(PhaseFailed)
			return s, err
		}
		s.advance(PhaseSucceeded)
		logutil.Successf("VM %s/%s already present; verification passed", s.TargetNamespace, s.Names.FinalVMName)
		return s, nil
	}

	if opts.Force {
		if opts.DryRun {
			logutil.Infof("📋 Dry run: would delete TransformSet %s/%s and RestoreAction %s/%s if present",
				k10NS, s.Names.TransformSetName, s.TargetNamespace, s.Names.RestoreActionName)
		} else if err := o.forcedCleanup(ctx, s, opts, k10NS); err != nil {
			s.advance(PhaseFailed)
			return s, err
		}
	}

	document, err := o.prepareTransforms(s, opts, k10NS)
	if err != nil {
		s.advance(PhaseFailed)
		return s, err
	}

	action := buildRestoreAction(s.Names.RestoreActionName, s.TargetNamespace, opts.RestorePoint, s.Names.TransformSetName, k10NS)

	if opts.DryRun {
		s.advance(PhaseDryRunExit)
		printDryRun(document, action)
		return s, nil
	}

	if err := o.applyTransforms(ctx, s, document, k10NS); err != nil {
		s.advance(PhaseFailed)
		return s, err
	}
	if err := o.createAction(ctx, s, action); err != nil {
		s.advance(PhaseFailed)
		return s, err
	}
	if err := o.monitor(ctx, s, opts); err != nil {
		s.advance(PhaseFailed)
		return s, err
	}
	o.postActions(ctx, s, opts)
	if err := o.verify(ctx, s); err != nil {
		s.advance(PhaseFailed)
		return s, err
	}

	s.advance(PhaseSucceeded)
	logutil.Successf("Restore of %s completed as VM %s/%s", opts.RestorePoint, s.TargetNamespace, s.Names.FinalVMName)
	return s, nil
}

// resolveContext fetches the restore point and settles the VM identity and
// namespaces, with explicit options overriding label-derived values.
func (o *Orchestrator) resolveContext(ctx context.Context, s *Session, opts Options) error {
	logutil.Infof("🔧 Resolving restore point %s", opts.RestorePoint)
	obj, err := o.Cluster.GetRestorePointContent(ctx, opts.RestorePoint)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return failure(KindNotFound, PhaseInit, opts.RestorePoint, fmt.Errorf("restore point not found"))
		}
		return failure(KindNotFound, PhaseInit, opts.RestorePoint, err)
	}
	s.Model = restorepoint.ParseObject(obj)

	s.SourceVMName = s.Model.SourceVMName
	if opts.VMName != "" {
		s.SourceVMName = opts.VMName
	}
	if s.SourceVMName == "" || s.SourceVMName == "unknown" {
		return failure(KindMissingIdentity, PhaseInit, opts.RestorePoint,
			fmt.Errorf("VM name not present in restore point labels and no -vm override given"))
	}

	s.SourceNamespace = s.Model.SourceNamespace
	if opts.SourceNamespace != "" {
		s.SourceNamespace = opts.SourceNamespace
	}
	s.TargetNamespace = opts.TargetNamespace
	if s.TargetNamespace == "" {
		s.TargetNamespace = s.SourceNamespace
	}
	if s.TargetNamespace == "" || s.TargetNamespace == "unknown" {
		return failure(KindMissingIdentity, PhaseInit, opts.RestorePoint,
			fmt.Errorf("target namespace not present in restore point labels and no override given"))
	}

	s.advance(PhaseContextResolved)
	logutil.Infof("📋 Source VM %s/%s, restoring into namespace %s", s.SourceNamespace, s.SourceVMName, s.TargetNamespace)
	return nil
}

// requiredCRDs are the API surfaces a restore cannot run without.
var requiredCRDs = []struct {
	groupVersion string
	resource     string
}{
	{"kubevirt.io/v1", "virtualmachines"},
	{"cdi.kubevirt.io/v1beta1", "datavolumes"},
	{"actions.kio.kasten.io/v1alpha1", "restoreactions"},
	{"config.kio.kasten.io/v1alpha1", "transformsets"},
}

// validate runs every precondition check and aggregates all errors before
// reporting, so a failed validation carries full diagnostics at once.
func (o *Orchestrator) validate(ctx context.Context, s *Session, opts Options) error {
	var errs []string

	for _, crd := range requiredCRDs {
		present, err := o.Cluster.CRDPresent(crd.groupVersion, crd.resource)
		if err != nil {
			errs = append(errs, fmt.Sprintf("checking %s/%s: %v", crd.groupVersion, crd.resource, err))
			continue
		}
		if !present {
			errs = append(errs, fmt.Sprintf("required resource %s (%s) is not served by the cluster", crd.resource, crd.groupVersion))
		}
	}

	if opts.StorageClass != "" {
		exists, err := o.Cluster.StorageClassExists(ctx, opts.StorageClass)
		if err != nil {
			s.warn("could not check storage class %s: %v", opts.StorageClass, err)
		} else if !exists {
			s.warn("storage class %s not found; the restore may stall on provisioning", opts.StorageClass)
		}
	}

	hasVsc, err := o.Cluster.HasVolumeSnapshotClass(ctx)
	if err != nil {
		s.warn("could not list volume snapshot classes: %v", err)
	} else if !hasVsc {
		s.warn("no VolumeSnapshotClass found; snapshot-based restores will not work")
	}

	nsExists, err := o.Cluster.NamespaceExists(ctx, s.TargetNamespace)
	if err != nil {
		errs = append(errs, fmt.Sprintf("checking namespace %s: %v", s.TargetNamespace, err))
	} else if !nsExists {
		logutil.Infof("📋 Namespace %s does not exist yet and will be created", s.TargetNamespace)
	} else if lines, err := o.Cluster.QuotaReport(ctx, s.TargetNamespace); err == nil {
		for _, line := range lines {
			logutil.Infof("📋 Quota %s", line)
		}
	}

	if len(errs) > 0 {
		return &Failure{Kind: KindValidationFailed, Phase: PhaseContextResolved, Object: opts.RestorePoint, Details: errs}
	}
	s.advance(PhaseValidated)
	return nil
}

func (o *Orchestrator) computeNames(s *Session, opts Options) {
	s.Names = names.ComputeRestoreNames(s.SourceVMName, opts.RestorePoint)
	s.advance(PhaseNamesComputed)
	logutil.Infof("📋 Transform set %s, restore action %s", s.Names.TransformSetName, s.Names.RestoreActionName)
}

// conflictCheck decides the conflict-resolution path once names are
// computed and before any mutating call. It reports true when the run
// should short-circuit to verification only.
func (o *Orchestrator) conflictCheck(ctx context.Context, s *Session, opts Options) (bool, error) {
	s.advance(PhaseConflictCheck)
	exists, err := o.Cluster.VMExists(ctx, s.TargetNamespace, s.Names.FinalVMName)
	if err != nil {
		return false, failure(KindConflictCheckFailed, PhaseConflictCheck, s.Names.FinalVMName, err)
	}
	if !exists {
		return false, nil
	}

	if !opts.CloneOnConflict {
		logutil.Infof("📋 VM %s/%s already exists; treating restore as already done", s.TargetNamespace, s.Names.FinalVMName)
		return true, nil
	}

	// Names derive from the final VM name, so the clone rename cascades
	// into the transform and action names. Re-running with the clone flag
	// converges on the same names as long as cluster state is unchanged.
	cloneName, err := names.ResolveCloneName(s.SourceVMName, s.TargetNamespace, func(name string) (bool, error) {
		return o.Cluster.VMExists(ctx, s.TargetNamespace, name)
	})
	if err != nil {
		return false, failure(KindConflictCheckFailed, PhaseConflictCheck, s.SourceVMName, err)
	}
	logutil.Infof("📋 VM %s exists; restoring as clone %s", s.Names.FinalVMName, cloneName)
	s.Names = names.ComputeRestoreNames(cloneName, opts.RestorePoint)
	s.CloneResolved = true
	return false, nil
}

// forcedCleanup deletes the orchestrator's own managed artifacts from a
// previous attempt. A declined confirmation is not a failure; the run
// simply proceeds without cleanup.
func (o *Orchestrator) forcedCleanup(ctx context.Context, s *Session, opts Options, k10NS string) error {
	prompt := fmt.Sprintf("Force cleanup: delete TransformSet %s and RestoreAction %s if present?",
		s.Names.TransformSetName, s.Names.RestoreActionName)
	confirmed := opts.AutoConfirm
	if !confirmed && o.Confirm != nil {
		confirmed = o.Confirm(prompt)
	}
	if !confirmed {
		logutil.Info("📋 Cleanup declined; continuing without it")
		return nil
	}

	if opts.TransformsFile == "" {
		if err := o.Cluster.DeleteTransformSet(ctx, k10NS, s.Names.TransformSetName); err != nil {
			return failure(KindTransformApplyFailed, PhaseNamesComputed, s.Names.TransformSetName, err)
		}
	} else {
		logutil.Info("📋 Custom transform file supplied; leaving existing TransformSets alone")
	}
	if err := o.Cluster.DeleteRestoreAction(ctx, s.TargetNamespace, s.Names.RestoreActionName); err != nil {
		return failure(KindActionCreateFailed, PhaseNamesComputed, s.Names.RestoreActionName, err)
	}
	logutil.Info("🧹 Forced cleanup finished")
	return nil
}

// prepareTransforms returns the transform document to submit: the custom
// file verbatim when one was supplied, otherwise the synthesized set
// persisted to an owner-only temp file.
func (o *Orchestrator) prepareTransforms(s *Session, opts Options, k10NS string) ([]byte, error) {
	if opts.TransformsFile != "" {
		data, err := os.ReadFile(opts.TransformsFile)
		if err != nil {
			return nil, failure(KindTransformApplyFailed, PhaseNamesComputed, opts.TransformsFile, err)
		}
		logutil.Infof("📋 Using custom transform file %s; it must define TransformSet %s in namespace %s",
			opts.TransformsFile, s.Names.TransformSetName, k10NS)
		s.advance(PhaseTransformsReady)
		return data, nil
	}

	rules := transforms.Synthesize(s.Model, transforms.Params{
		FinalVMName:     s.Names.FinalVMName,
		SourceVMName:    s.SourceVMName,
		SourceNamespace: s.SourceNamespace,
		TargetNamespace: s.TargetNamespace,
		NewStorageClass: opts.StorageClass,
		RegenerateMAC:   opts.RegenerateMAC,
		DiskSizes:       opts.DiskSizes,
	})
	if err := transforms.Validate(rules); err != nil {
		return nil, failure(KindTransformApplyFailed, PhaseNamesComputed, s.Names.TransformSetName, err)
	}
	doc := transforms.NewDocument(s.Names.TransformSetName, k10NS, rules)
	path, err := doc.WriteTempFile()
	if err != nil {
		return nil, failure(KindTransformApplyFailed, PhaseNamesComputed, s.Names.TransformSetName, err)
	}
	logutil.Infof("💾 Transform document written to %s", path)
	data, err := doc.Render()
	if err != nil {
		return nil, failure(KindTransformApplyFailed, PhaseNamesComputed, s.Names.TransformSetName, err)
	}
	s.advance(PhaseTransformsReady)
	return data, nil
}

// applyTransforms creates the target namespace and submits the transform
// document. A failed apply aborts the whole operation.
func (o *Orchestrator) applyTransforms(ctx context.Context, s *Session, document []byte, k10NS string) error {
	if err := o.Cluster.EnsureNamespace(ctx, s.TargetNamespace); err != nil {
		return failure(KindValidationFailed, PhaseTransformsReady, s.TargetNamespace, err)
	}
	if err := o.Cluster.ApplyDocument(ctx, document, k10NS); err != nil {
		return failure(KindTransformApplyFailed, PhaseTransformsReady, s.Names.TransformSetName, err)
	}
	s.advance(PhaseTransformsApplied)
	logutil.Successf("Transform set %s applied", s.Names.TransformSetName)
	return nil
}

// createAction submits the restore action, or treats an existing one as
// already submitted (idempotent re-entry; the force path deleted it
// earlier if cleanup was confirmed).
func (o *Orchestrator) createAction(ctx context.Context, s *Session, action *unstructured.Unstructured) error {
	exists, err := o.Cluster.RestoreActionExists(ctx, action.GetNamespace(), action.GetName())
	if err != nil {
		return failure(KindActionCreateFailed, PhaseTransformsApplied, action.GetName(), err)
	}
	if exists {
		logutil.Infof("📋 RestoreAction %s already exists; monitoring the in-flight restore", action.GetName())
	} else {
		if err := o.Cluster.CreateRestoreAction(ctx, action); err != nil {
			return failure(KindActionCreateFailed, PhaseTransformsApplied, action.GetName(), err)
		}
		logutil.Successf("RestoreAction %s created", action.GetName())
	}
	s.advance(PhaseActionCreated)
	return nil
}

// monitor polls the action state until it is terminal or the timeout is
// exceeded. A "Failed" state dumps the full object for diagnostics.
func (o *Orchestrator) monitor(ctx context.Context, s *Session, opts Options) error {
	s.advance(PhaseMonitoring)
	timeout := opts.ActionTimeout
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	start := time.Now()
	name := s.Names.RestoreActionName

	for {
		state, obj, err := o.Cluster.GetRestoreAction(ctx, s.TargetNamespace, name)
		if err != nil {
			s.warn("polling RestoreAction %s: %v", name, err)
		} else {
			s.LastState = state
			switch state {
			case actionStateComplete:
				logutil.Successf("RestoreAction %s completed after %s", name, time.Since(start).Round(time.Second))
				return nil
			case actionStateFailed:
				dumpObject(obj)
				return failure(KindActionFailed, PhaseMonitoring, name, fmt.Errorf("restore action reported state Failed"))
			default:
				logutil.Infof("⌛ RestoreAction %s state %q after %s", name, state, time.Since(start).Round(time.Second))
			}
		}
		if time.Since(start) > timeout {
			return failure(KindTimeoutExceeded, PhaseMonitoring, name,
				fmt.Errorf("restore action not terminal after %s (last state %q)", timeout, s.LastState))
		}
		time.Sleep(o.PollInterval)
	}
}

// postActions waits for the restored VM to materialize and reconciles its
// run state. Timeouts here are warnings only; import and boot latency are
// outside this tool's control.
func (o *Orchestrator) postActions(ctx context.Context, s *Session, opts Options) {
	s.advance(PhasePostActions)
	vmName := s.Names.FinalVMName

	if !o.waitForExistence(s, vmName, func() (bool, error) {
		return o.Cluster.VMExists(ctx, s.TargetNamespace, vmName)
	}) {
		s.warn("VM %s/%s did not appear within %s", s.TargetNamespace, vmName, o.AppearTimeout)
		return
	}

	if opts.NoStart {
		if err := o.Cluster.PatchVMRunning(ctx, s.TargetNamespace, vmName, false); err != nil {
			s.warn("could not stop VM %s/%s: %v", s.TargetNamespace, vmName, err)
		} else {
			logutil.Infof("📋 VM %s/%s left stopped (-no-start)", s.TargetNamespace, vmName)
		}
		return
	}

	time.Sleep(o.SettleDelay)
	if !o.waitForExistence(s, vmName, func() (bool, error) {
		return o.Cluster.VMIExists(ctx, s.TargetNamespace, vmName)
	}) {
		s.warn("VM instance %s/%s not running yet after %s; it may still be booting", s.TargetNamespace, vmName, o.AppearTimeout)
	}
}

// waitForExistence polls check until it reports true or AppearTimeout
// passes. Poll errors are warnings; the wait keeps going.
func (o *Orchestrator) waitForExistence(s *Session, name string, check func() (bool, error)) bool {
	start := time.Now()
	for {
		found, err := check()
		if err != nil {
			s.warn("waiting for %s: %v", name, err)
		} else if found {
			return true
		}
		if time.Since(start) > o.AppearTimeout {
			return false
		}
		time.Sleep(o.PollInterval)
	}
}

// verify re-checks the restored VM and the phase of its disks. A missing
// VM here is a hard failure; lagging disk or PVC phases are warnings.
func (o *Orchestrator) verify(ctx context.Context, s *Session) error {
	vmName := s.Names.FinalVMName
	exists, err := o.Cluster.VMExists(ctx, s.TargetNamespace, vmName)
	if err != nil {
		return failure(KindVerificationFailed, PhasePostActions, vmName, err)
	}
	if !exists {
		return failure(KindVerificationFailed, PhasePostActions, vmName,
			fmt.Errorf("VM not found in namespace %s after restore", s.TargetNamespace))
	}

	for _, disk := range s.Model.Disks {
		phase, err := o.Cluster.GetDataVolumePhase(ctx, s.TargetNamespace, disk.Name)
		if err != nil {
			s.warn("checking DataVolume %s: %v", disk.Name, err)
			continue
		}
		if phase != "Succeeded" {
			s.warn("DataVolume %s phase is %q, expected Succeeded", disk.Name, phase)
		}
		pvcPhase, err := o.Cluster.GetPVCPhase(ctx, s.TargetNamespace, disk.Name)
		if err != nil {
			s.warn("checking PVC %s: %v", disk.Name, err)
			continue
		}
		if pvcPhase != "Bound" {
			s.warn("PVC %s phase is %q, expected Bound", disk.Name, pvcPhase)
		}
	}

	if vm, err := o.Cluster.GetVM(ctx, s.TargetNamespace, vmName); err == nil {
		running, _, _ := unstructured.NestedBool(vm.Object, "spec", "running")
		state := "stopped"
		if running {
			state = "running"
		}
		logutil.Infof("📋 VM %s/%s is %s", s.TargetNamespace, vmName, state)
	}

	s.advance(PhaseVerified)
	return nil
}

func dumpObject(obj *unstructured.Unstructured) {
	if obj == nil {
		return
	}
	raw, err := json.MarshalIndent(obj.Object, "", "  ")
	if err != nil {
		logutil.Errorf("could not render failed object: %v", err)
		return
	}
	logutil.Errorf("❌ Restore action failed; full object follows:\n%s", raw)
}

func printDryRun(document []byte, action *unstructured.Unstructured) {
	logutil.Info("📋 Dry run: transform document that would be applied:")
	fmt.Println(string(document))
	raw, err := json.MarshalIndent(action.Object, "", "  ")
	if err == nil {
		logutil.Info("📋 Dry run: restore action that would be created:")
		fmt.Println(string(raw))
	}
}
