package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns what it printed.
// Flag values are restored to their defaults afterwards.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(resetFlags)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags() {
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		reset := func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
		c.Flags().VisitAll(reset)
		c.PersistentFlags().VisitAll(reset)
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(rootCmd)
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "ppgcam", rootCmd.Use)

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["measure"])
	assert.True(t, names["subjects"])

	for _, name := range []string{"dir", "log-level"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "ppgcam version dev\n", out)
}

func TestLoadConfigRejectsBadLogLevel(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "subjects", "list", "--dir", dir, "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log level")
}
