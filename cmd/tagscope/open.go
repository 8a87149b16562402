package main

import (
	"bufio"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/tagscope/internal/browser"
	"github.com/ibeckermayer/tagscope/internal/config"
)

func init() {
	rootCmd.AddCommand(openCmd, botTestCmd)
}

var openCmd = &cobra.Command{
	Use:   "open <config|data|cache|digest|export <topic>>",
	Short: "Open the config file, a data directory, the latest run digest or a topic's latest export",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var path string
		switch args[0] {
		case "config":
			if configPath != "" {
				path = configPath
			} else {
				path, err = config.ConfigPath()
			}
		case "data":
			path, err = cfg.ExportDir()
		case "cache":
			path, err = config.CacheDir()
		case "digest":
			return a.OpenLatestDigest()
		case "export":
			if len(args) < 2 {
				return fmt.Errorf("usage: tagscope open export <topic>")
			}
			return a.OpenLatestExport(args[1])
		default:
			return fmt.Errorf("unknown target: %s", args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to get path: %w", err)
		}
		return a.OpenPath(path)
	},
}

const botTestURL = "https://bot.sannysoft.com"

var botTestCmd = &cobra.Command{
	Use:   "bot-test",
	Short: "Open a fingerprint audit page with the scraper's stealth browser options",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("opening fingerprint audit page with stealth browser options", "url", botTestURL)

		page, err := browser.Launch(cmd.Context(), browser.LaunchOptions{
			Headless:  false, // visible so the results can be read
			UserAgent: cfg.Browser.UserAgent,
			Width:     cfg.Browser.Width,
			Height:    cfg.Browser.Height,
			NoSandbox: cfg.Browser.NoSandbox,
		}, logger)
		if err != nil {
			return err
		}
		defer page.Close()

		if err := page.Navigate(cmd.Context(), botTestURL); err != nil {
			return fmt.Errorf("failed to navigate: %w", err)
		}
		if el, _ := page.FindFirst(cmd.Context(), "table", 10*time.Second); el == nil {
			logger.Warn("audit results not found yet; the page may still be loading")
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Press Enter to close the browser...")
		waitForEnter(cmd)
		logger.Info("done")
		return nil
	},
}

// waitForEnter blocks until a line is read or the command is cancelled.
func waitForEnter(cmd *cobra.Command) {
	line := make(chan struct{})
	go func() {
		bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		close(line)
	}()
	select {
	case <-line:
	case <-cmd.Context().Done():
	}
}
