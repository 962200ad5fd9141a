package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"alcyxob/artifact-relay/internal/domain"
	"alcyxob/artifact-relay/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newSendCmd forwards local files to the processor and waits for the hand-off result.
func newSendCmd(configPath *string) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "send FILE...",
		Short: "Forward files to the processor synchronously",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			files := make([]domain.FilePart, 0, len(args))
			for _, name := range args {
				content, err := os.ReadFile(name)
				if err != nil {
					return fmt.Errorf("read %s: %w", name, err)
				}
				files = append(files, domain.NewFilePart(filepath.Base(name), "", content))
			}

			uploads := service.NewUploadService(nil, service.NewHTTPDispatcher(cfg.Processor, nil, logger), nil, nil, nil, logger)
			receipt, err := uploads.ForwardNow(cmd.Context(), files, description)
			if err != nil {
				fields := []zap.Field{zap.Error(err)}
				if receipt != nil {
					fields = append(fields, zap.String("requestId", receipt.RequestID))
				}
				logger.Error("send failed", fields...)
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(receipt)
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "prompt description sent with the files")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}
