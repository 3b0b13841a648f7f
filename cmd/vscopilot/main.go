// Command vscopilot drives the Copilot Chat panel of a fresh VS Code
// instance: launch, send a prompt, wait for the response to settle, and
// write the conversation transcript as JSON.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vscopilot/internal/chat"
	"vscopilot/internal/config"
	"vscopilot/internal/session"
)

var (
	flagPrompt    string
	flagModel     string
	flagMode      string
	flagWorkspace string
	flagOutput    string
	flagConfig    string
	flagVerbose   bool

	logger *zap.Logger
)

// transcriptFile is the JSON document written to --output.
type transcriptFile struct {
	Messages []chat.ConversationTurn `json:"messages"`
	Model    string                  `json:"model"`
	Mode     string                  `json:"mode"`
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vscopilot",
		Short:         "Drive VS Code Copilot Chat from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zcfg := zap.NewProductionConfig()
			if flagVerbose {
				zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
			}
			var err error
			logger, err = zcfg.Build()
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: run,
	}
	cmd.Flags().StringVarP(&flagPrompt, "prompt", "p", "", "prompt to send (required)")
	cmd.Flags().StringVar(&flagModel, "model", "GPT-4.1", "model to select in the picker")
	cmd.Flags().StringVar(&flagMode, "mode", "Agent", "chat mode to select (Ask, Edit, Agent)")
	cmd.Flags().StringVarP(&flagWorkspace, "workspace", "w", "", "folder to open in the editor")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "transcript.json", "path for the transcript JSON")
	cmd.Flags().StringVarP(&flagConfig, "config", "c", "vscopilot.yaml", "config file path")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	mgr, err := session.Launch(ctx, cfg.VSCode, flagWorkspace, logger)
	if err != nil {
		return fmt.Errorf("launch editor: %w", err)
	}
	defer mgr.Close()

	if path, err := mgr.Screenshot(ctx, "startup"); err != nil {
		logger.Warn("startup screenshot failed", zap.Error(err))
	} else {
		logger.Debug("startup screenshot", zap.String("path", path))
	}

	if err := mgr.OpenChat(ctx); err != nil {
		if _, derr := mgr.DumpDOM(ctx, "chat-open-failure"); derr != nil {
			logger.Warn("dom dump failed", zap.Error(derr))
		}
		return fmt.Errorf("open chat panel: %w", err)
	}

	client := chat.NewClient(mgr.Page(), cfg.Chat, logger)

	if err := client.Send(ctx, flagPrompt, flagModel, flagMode); err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}

	if err := client.AwaitSettled(ctx); err != nil {
		if errors.Is(err, chat.ErrSettleTimeout) {
			logger.Warn("chat never settled, extracting what rendered", zap.Error(err))
			if _, serr := mgr.Screenshot(ctx, "settle-timeout"); serr != nil {
				logger.Warn("timeout screenshot failed", zap.Error(serr))
			}
		} else {
			return fmt.Errorf("wait for response: %w", err)
		}
	}

	turns, err := client.ExtractTranscript(ctx)
	if err != nil {
		return fmt.Errorf("extract transcript: %w", err)
	}
	logger.Info("transcript extracted", zap.Int("turns", len(turns)))

	if path, err := mgr.Screenshot(ctx, "final"); err != nil {
		logger.Warn("final screenshot failed", zap.Error(err))
	} else {
		logger.Debug("final screenshot", zap.String("path", path))
	}

	return writeTranscript(flagOutput, transcriptFile{
		Messages: turns,
		Model:    flagModel,
		Mode:     flagMode,
	})
}

func writeTranscript(path string, tf transcriptFile) error {
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
