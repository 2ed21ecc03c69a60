package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chat-relay/internal/domain"
	"chat-relay/internal/usecase"
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one user message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(a.logger.WithContext(cmd.Context()), a.cfg.RequestTimeout)
		defer cancel()

		out, err := a.replier.Reply(ctx, usecase.ReplyInput{
			Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: strings.Join(args, " ")}},
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), out.Reply)
		return err
	},
}
