package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/tagscope/internal/fetch"
)

func TestFetchFlagsApply(t *testing.T) {
	configured := fetch.Options{Headless: true, MaxRetries: 3, MaxPosts: 20}

	tests := []struct {
		name string
		args []string
		want fetch.Options
	}{
		{"no flags", nil, configured},
		{"headful", []string{"--headful"}, fetch.Options{Headless: false, MaxRetries: 3, MaxPosts: 20}},
		{"limits", []string{"--max-retries", "5", "--max-posts", "0"}, fetch.Options{Headless: true, MaxRetries: 5, MaxPosts: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f fetchFlags
			cmd := &cobra.Command{Use: "x"}
			f.register(cmd)
			require.NoError(t, cmd.ParseFlags(tt.args))
			assert.Equal(t, tt.want, f.apply(cmd, configured))
		})
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"login", "logout", "status", "fetch", "history", "show", "tags", "batch", "schedule", "inspect", "open", "bot-test"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}
