package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/browser"
	"github.com/pplxhelper/pplxhelper/internal/config"
	"github.com/pplxhelper/pplxhelper/internal/messages"
	"github.com/pplxhelper/pplxhelper/internal/rewrite"
	"github.com/pplxhelper/pplxhelper/internal/stats"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// openURL is swapped in tests.
var openURL = browser.OpenURL

func newFocusCmd(cfg *config.RuntimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "focus",
		Short: "Bring the chat tab to the front and focus its prompt, opening it if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp messages.FocusOrOpenResponse
			err := newDaemonClient(cfg).post(cmd.Context(), "/command/focus-or-open", nil, &resp)
			if errors.Is(err, ErrDaemonDown) {
				pterm.Warning.Println("Daemon not running, opening the chat page in the default browser")
				return openURL(cfg.HostURL)
			}
			if err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("focus failed: %s", resp.Error)
			}
			if resp.Created {
				pterm.Success.Printf("Opened chat tab %s\n", resp.TargetID)
			} else {
				pterm.Success.Printf("Focused chat tab %s\n", resp.TargetID)
			}
			return nil
		},
	}
}

func newStatsCmd(cfg *config.RuntimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the session token counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var s stats.Summary
			if err := newDaemonClient(cfg).get(cmd.Context(), "/stats", &s); err != nil {
				return err
			}
			if output, _ := cmd.Flags().GetString("output"); output == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			table := pterm.TableData{
				{"Counter", "Value"},
				{"Session tokens", fmt.Sprint(s.SessionTokens)},
				{"Answers", fmt.Sprint(s.AnswersCount)},
				{"Avg tokens per answer", fmt.Sprint(s.AvgAnswerTokens)},
			}
			return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output format (json)")
	return cmd
}

func newResetCmd(cfg *config.RuntimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset the session token counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp messages.OKResponse
			if err := newDaemonClient(cfg).post(cmd.Context(), "/stats/reset", nil, &resp); err != nil {
				return err
			}
			pterm.Success.Println("Session counters reset")
			return nil
		},
	}
}

func newRewriteCmd(cfg *config.RuntimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewrite <text>",
		Short: "Rewrite a prompt through the configured model and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			var resp messages.ImproveResponse
			err := newDaemonClient(cfg).post(cmd.Context(), "/message", messages.Request{
				Action: messages.ActionImprovePrompt,
				Prompt: prompt,
			}, &resp)
			if errors.Is(err, ErrDaemonDown) {
				text, err := rewriteLocal(cmd, cfg, prompt)
				if err != nil {
					return err
				}
				resp = messages.ImproveResponse{OK: true, Text: text}
			} else if err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("rewrite failed: %s", resp.Error)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
			return err
		},
	}
	return cmd
}

// rewriteLocal calls the model directly with the stored options when no
// daemon is running.
func rewriteLocal(cmd *cobra.Command, cfg *config.RuntimeConfig, prompt string) (string, error) {
	opts := config.NewOptionsStore(cfg.StateDir)
	if err := opts.Load(); err != nil {
		return "", err
	}
	client := rewrite.NewClient(func() (string, string) {
		o := opts.Get()
		return config.ResolveAPIKey(o), o.OpenRouterModel
	})
	spinner, _ := pterm.DefaultSpinner.WithWriter(cmd.ErrOrStderr()).Start("Rewriting prompt")
	text, err := client.Rewrite(cmd.Context(), prompt)
	if spinner != nil {
		_ = spinner.Stop()
	}
	if err != nil {
		return "", fmt.Errorf("rewrite failed: %s", rewrite.ErrorCode(err))
	}
	return text, nil
}

func newConfigCmd(cfg *config.RuntimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage daemon configuration and options",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write default config and options files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ConfigPath()
			if _, err := os.Stat(path); err == nil {
				pterm.Info.Printf("Config already exists at %s\n", path)
			} else {
				if err := config.WriteDefaultFile(path); err != nil {
					return err
				}
				pterm.Success.Printf("Wrote %s\n", path)
			}

			opts := config.NewOptionsStore(cfg.StateDir)
			if _, err := os.Stat(opts.Path()); err == nil {
				pterm.Info.Printf("Options already exist at %s\n", opts.Path())
				return nil
			}
			if err := opts.Save(config.DefaultOptions()); err != nil {
				return err
			}
			pterm.Success.Printf("Wrote %s\n", opts.Path())
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table := pterm.TableData{
				{"Setting", "Value"},
				{"Listen", cfg.ListenAddr()},
				{"CDP URL", cfg.CdpURL},
				{"Token", config.MaskToken(cfg.Token)},
				{"State dir", cfg.StateDir},
				{"Profile dir", cfg.ProfileDir},
				{"Headless", fmt.Sprint(cfg.Headless)},
				{"Host URL", cfg.HostURL},
				{"Max pending", fmt.Sprint(cfg.MaxPendingDeliveries)},
			}
			if err := pterm.DefaultTable.WithHasHeader().WithData(table).Render(); err != nil {
				return err
			}

			opts := config.NewOptionsStore(cfg.StateDir)
			if err := opts.Load(); err != nil {
				return err
			}
			o := opts.Get()
			if o.OpenRouterAPIKey == "" && config.ResolveAPIKey(o) != "" {
				o.OpenRouterAPIKey = "(env or keyring)"
			}
			data, err := yaml.Marshal(o.Redacted())
			if err != nil {
				return err
			}
			pterm.DefaultSection.Println("Options (" + opts.Path() + ")")
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	return cmd
}

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Store the OpenRouter API key in the OS keyring",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set [key]",
		Short: "Save the key; reads it from stdin when omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read key: %w", err)
				}
				key = line
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New("empty key")
			}
			if err := config.StoreAPIKey(key); err != nil {
				return fmt.Errorf("store key: %w", err)
			}
			pterm.Success.Println("API key saved to the keyring")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the key from the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.DeleteAPIKey(); err != nil {
				return fmt.Errorf("delete key: %w", err)
			}
			pterm.Success.Println("API key removed")
			return nil
		},
	})
	return cmd
}
