package names

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sanitizedPattern = regexp.MustCompile(`^[a-z0-9-]*$`)

func TestSanitizeProperties(t *testing.T) {
	inputs := []string{
		"",
		"simple",
		"ALL-UPPERCASE",
		"MiXeD_case.With/Symbols!",
		"@@@***",
		"rhel9-vm",
		"name.with.dots",
		"trailing-dash-",
		"---",
		strings.Repeat("A", 150),
		strings.Repeat("x", 62) + "__tail",
	}
	for _, in := range inputs {
		out := Sanitize(in)
		assert.LessOrEqual(t, len(out), 63, "input %q", in)
		assert.Regexp(t, sanitizedPattern, out, "input %q", in)
		assert.False(t, strings.HasSuffix(out, "-"), "input %q produced trailing dash: %q", in, out)
		assert.Equal(t, out, Sanitize(out), "sanitize not idempotent for %q", in)
	}
}

func TestSanitizeValues(t *testing.T) {
	assert.Equal(t, "rhel9-vm", Sanitize("RHEL9_VM"))
	assert.Equal(t, "a-b-c", Sanitize("a.b/c"))
	assert.Equal(t, "", Sanitize("!!!"))
	assert.Equal(t, strings.Repeat("z", 63), Sanitize(strings.Repeat("z", 100)))
}

func TestComputeRestoreNamesDeterministic(t *testing.T) {
	first := ComputeRestoreNames("myvm", "rpc-xyz-20251117-101530")
	second := ComputeRestoreNames("myvm", "rpc-xyz-20251117-101530")
	assert.Equal(t, first, second)
	assert.Equal(t, "vm-restore-transforms-myvm-rpc-xyz-20251117-101", first.TransformSetName)
	assert.Equal(t, "restore-myvm-rpc-xyz-20251117-101", first.RestoreActionName)
	assert.Equal(t, "myvm", first.FinalVMName)
}

func TestResolveCloneNameFirstFree(t *testing.T) {
	got, err := ResolveCloneName("web", "ns", func(name string) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "web-clone", got)
}

func TestResolveCloneNameSkipsTaken(t *testing.T) {
	got, err := ResolveCloneName("web", "ns", func(name string) (bool, error) {
		return name == "web-clone", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "web-clone-2", got)
}

func TestResolveCloneNameProbesInOrder(t *testing.T) {
	var probes []string
	_, err := ResolveCloneName("web", "ns", func(name string) (bool, error) {
		probes = append(probes, name)
		return len(probes) < 4, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"web-clone", "web-clone-2", "web-clone-3", "web-clone-4"}, probes)
}

func TestResolveCloneNameExhaustedFallback(t *testing.T) {
	allTaken := func(name string) (bool, error) { return true, nil }
	first, err := ResolveCloneName("web", "prod", allTaken)
	require.NoError(t, err)
	second, err := ResolveCloneName("web", "prod", allTaken)
	require.NoError(t, err)

	// The fallback is deterministic and still a valid sanitized name.
	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "web-clone-"))
	assert.NotEqual(t, "web-clone-99", first)
	assert.Regexp(t, sanitizedPattern, first)

	other, err := ResolveCloneName("web", "staging", allTaken)
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "fallback should vary with namespace")
}

func TestResolveCloneNamePropagatesErrors(t *testing.T) {
	_, err := ResolveCloneName("web", "ns", func(name string) (bool, error) {
		return false, fmt.Errorf("api unavailable")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "web-clone")
}
