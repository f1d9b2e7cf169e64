package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kubevirt-tools/k10-vm-restore/pkg/discovery"
	"github.com/kubevirt-tools/k10-vm-restore/pkg/k8s"
	"github.com/kubevirt-tools/k10-vm-restore/pkg/logutil"
	"github.com/kubevirt-tools/k10-vm-restore/pkg/orchestrator"
)

// resizeFlag allows multiple -resize disk=size flags.
type resizeFlag map[string]string

func (r resizeFlag) String() string {
	parts := make([]string, 0, len(r))
	for disk, size := range r {
		parts = append(parts, disk+"="+size)
	}
	return strings.Join(parts, ",")
}

func (r resizeFlag) Set(value string) error {
	disk, size, ok := strings.Cut(value, "=")
	if !ok || disk == "" || size == "" {
		return fmt.Errorf("expected disk=size, got %q", value)
	}
	r[disk] = size
	return nil
}

func main() {
	// Define command-line flags.
	mode := flag.String("mode", "", "Operation mode: list or restore")
	kubeconfig := flag.String("kubeconfig", "", "Path to kubeconfig file (optional)")

	// For list mode:
	deletedOnly := flag.Bool("deleted-only", false, "List only restore points whose VM no longer exists")

	// For restore mode:
	restorePoint := flag.String("restore-point", "", "Name of the RestorePointContent to restore from")
	vmName := flag.String("vm", "", "Target VM name (overrides the name recorded in the restore point)")
	sourceNamespace := flag.String("source-namespace", "", "Source namespace override")
	namespace := flag.String("namespace", "", "Target namespace (defaults to the source namespace)")
	regenerateMAC := flag.Bool("regenerate-mac", false, "Drop recorded MAC addresses so new ones are assigned")
	storageClass := flag.String("storage-class", "", "Storage class override for restored disks")
	noStart := flag.Bool("no-start", false, "Leave the restored VM stopped")
	clone := flag.Bool("clone", false, "Restore under a -clone name when the VM already exists")
	force := flag.Bool("force", false, "Delete leftover TransformSet/RestoreAction from a previous attempt")
	yes := flag.Bool("yes", false, "Assume yes for all confirmation prompts")
	transformsFile := flag.String("transforms-file", "", "Apply this transform document instead of the generated one")
	dryRun := flag.Bool("dry-run", false, "Print the transform document and restore action without creating anything")
	validateOnly := flag.Bool("validate-only", false, "Run precondition checks and exit")
	k10Namespace := flag.String("k10-namespace", orchestrator.DefaultK10Namespace, "Namespace where K10 is installed")
	timeout := flag.Duration("timeout", 600*time.Second, "Restore action completion timeout")
	resizes := resizeFlag{}
	flag.Var(resizes, "resize", "Disk resize as disk=size (can be specified multiple times, e.g. -resize rootdisk=30Gi)")

	flag.Parse()

	// Combined flag checks.
	if *mode != "list" && *mode != "restore" {
		log.Fatal("❌ Please specify -mode=list or -mode=restore")
	}
	if *mode == "restore" && *restorePoint == "" {
		log.Fatal("❌ For restore mode, please provide the restore point name using -restore-point")
	}
	if *dryRun && *validateOnly {
		log.Fatal("❌ -dry-run and -validate-only are mutually exclusive")
	}

	// Initialize the Kubernetes client.
	client, err := k8s.NewClient(*kubeconfig)
	if err != nil {
		log.Fatalf("❌ Error initializing Kubernetes client: %v", err)
	}
	ctx := context.Background()

	switch *mode {
	case "list":
		items, err := discovery.Run(ctx, client, discovery.Options{DeletedOnly: *deletedOnly})
		if err != nil {
			log.Fatalf("❌ Listing restore points failed: %v", err)
		}
		if len(items) == 0 {
			log.Println("❌ No VM restore points found.")
			return
		}
		logutil.Successf("Found %d VM restore point(s):", len(items))
		for _, item := range items {
			fmt.Print(item.Summary())
		}
	case "restore":
		orch := orchestrator.New(client)
		if *yes {
			orch.Confirm = logutil.AutoConfirm
		}
		session, err := orch.Run(ctx, orchestrator.Options{
			RestorePoint:    *restorePoint,
			VMName:          *vmName,
			SourceNamespace: *sourceNamespace,
			TargetNamespace: *namespace,
			RegenerateMAC:   *regenerateMAC,
			StorageClass:    *storageClass,
			DiskSizes:       resizes,
			NoStart:         *noStart,
			CloneOnConflict: *clone,
			Force:           *force,
			AutoConfirm:     *yes,
			TransformsFile:  *transformsFile,
			DryRun:          *dryRun,
			ValidateOnly:    *validateOnly,
			K10Namespace:    *k10Namespace,
			ActionTimeout:   *timeout,
		})
		if err != nil {
			log.Fatalf("❌ Restore failed: %v", err)
		}
		if len(session.Warnings) > 0 {
			logutil.Warnf("⚠️  Completed with %d warning(s)", len(session.Warnings))
		}
	}
}
