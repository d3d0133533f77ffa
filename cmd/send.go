package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"waveline/pkg/config"

	"github.com/spf13/cobra"
)

var (
	sendTo   string
	sendText string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a one-off text message",
	Long:  "Sends a single text message through the platform API using the configured credentials.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		if err := validateSendFlags(sendTo, sendText); err != nil {
			return err
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		apiClient, err := newPlatformClient(cfg, nil)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		messageID, err := apiClient.SendText(ctx, sendTo, sendText)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}

		fmt.Printf("sent %s\n", messageID)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendTo, "to", "", "recipient phone number")
	sendCmd.Flags().StringVar(&sendText, "text", "", "message text")
	rootCmd.AddCommand(sendCmd)
}

// validateSendFlags checks required send flags before touching config.
func validateSendFlags(to, text string) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("--to is required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("--text is required")
	}
	return nil
}
