// Package names derives Kubernetes-safe, deterministic identifiers for the
// objects a restore creates: the transform set, the restore action and the
// restored VM itself, including clone renaming on conflicts.
package names

import (
	"fmt"
	"strings"

	sha256 "github.com/minio/sha256-simd"
)

// maxNameLength is the Kubernetes object name limit honored by Sanitize.
const maxNameLength = 63

// maxCloneAttempts bounds the -clone-N probing before the digest fallback.
const maxCloneAttempts = 99

// ExistsFunc reports whether a name is already taken in the target
// namespace. It is queried fresh on every probe; results are never cached
// inside a resolution, so concurrent creates are caught as early as a
// best-effort check allows.
type ExistsFunc func(name string) (bool, error)

// Resolved carries the three names a restore invocation settles on. They
// are fully determined by the final VM name and the restore point name, so
// a clone rename cascades into the transform and action names as well.
type Resolved struct {
	FinalVMName       string
	TransformSetName  string
	RestoreActionName string
}

// Sanitize lowercases the input, replaces every character outside [a-z0-9-]
// with '-', truncates to 63 characters and strips trailing '-' characters
// left by replacement or truncation. It is idempotent.
func Sanitize(raw string) string {
	lowered := strings.ToLower(raw)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	out := b.String()
	if len(out) > maxNameLength {
		out = out[:maxNameLength]
	}
	return strings.TrimRight(out, "-")
}

// truncate shortens s to at most n bytes.
func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// ComputeRestoreNames derives the transform-set and restore-action names
// from the VM name and the restore point name. Pure and deterministic:
// identical inputs always yield identical names.
func ComputeRestoreNames(vmName, restorePointName string) Resolved {
	rpPart := truncate(Sanitize(restorePointName), 20)
	return Resolved{
		FinalVMName:       vmName,
		TransformSetName:  Sanitize("vm-restore-transforms-" + vmName + "-" + rpPart),
		RestoreActionName: Sanitize("restore-" + vmName + "-" + rpPart),
	}
}

// ResolveCloneName finds a free clone name for baseName in namespace. It
// tries base-clone, then base-clone-2 through base-clone-99, asking exists
// for each candidate in turn. If all of those are taken it falls back to a
// short content digest of base and namespace, which keeps even the
// exhausted tail deterministic.
func ResolveCloneName(baseName, namespace string, exists ExistsFunc) (string, error) {
	candidate := Sanitize(baseName + "-clone")
	taken, err := exists(candidate)
	if err != nil {
		return "", fmt.Errorf("checking clone name %s: %w", candidate, err)
	}
	if !taken {
		return candidate, nil
	}

	for i := 2; i <= maxCloneAttempts; i++ {
		candidate = Sanitize(fmt.Sprintf("%s-clone-%d", baseName, i))
		taken, err := exists(candidate)
		if err != nil {
			return "", fmt.Errorf("checking clone name %s: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}

	sum := sha256.Sum256([]byte(baseName + "/" + namespace))
	fallback := Sanitize(fmt.Sprintf("%s-clone-%x", baseName, sum[:4]))
	return fallback, nil
}
