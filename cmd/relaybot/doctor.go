package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your relaybot installation",
		Long: `Verifies that relaybot's configuration, credentials, thread store and
media directory are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := resolveConfigPath()
			fmt.Fprintf(out, "relaybot doctor v%s\n\n", version)

			r := &report{out: out}

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Fprintf(out, "\nRun 'relaybot init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			r.required("Assistant API key", cfg.Assistant.APIKey)
			r.required("Assistant ID", cfg.Assistant.AssistantID)
			r.required("Relay API key", cfg.Relay.APIKey)
			r.recommended("Self number", cfg.WhatsApp.SelfNumber, "group messages will never be answered")
			r.recommended("Trigger token", cfg.WhatsApp.TriggerToken, "group messages will never be answered")
			r.recommended("Punctuation assistant", cfg.Assistant.PunctuationAssistantID, "transcripts use the main assistant")

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := checkStore(ctx, cfg.Memory); err != nil {
				r.fail("Thread store", err.Error())
			} else {
				r.pass("Thread store", cfg.Memory.Backend)
			}

			if err := checkWritableDir(cfg.Media.TempDir); err != nil {
				r.fail("Media temp dir", err.Error())
			} else {
				r.pass("Media temp dir", cfg.Media.TempDir)
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				r.warn("Webhook port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				r.pass("Webhook port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			return r.summary()
		},
	}
}

type report struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.out, "  [PASS] %-22s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.out, "  [FAIL] %-22s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.out, "  [WARN] %-22s %s\n", check, detail)
}

func (r *report) required(check, value string) {
	if value == "" {
		r.fail(check, "not configured")
		return
	}
	r.pass(check, "configured")
}

func (r *report) recommended(check, value, consequence string) {
	if value == "" {
		r.warn(check, "not configured: "+consequence)
		return
	}
	r.pass(check, value)
}

func (r *report) summary() error {
	fmt.Fprintf(r.out, "\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	return nil
}

func checkStore(ctx context.Context, cfg config.MemoryConfig) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	_, err = store.List(ctx, 1)
	return err
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create: %w", err)
	}
	f, err := os.CreateTemp(dir, "doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}
