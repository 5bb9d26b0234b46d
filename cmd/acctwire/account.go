// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acctwire/acctwire-go/pkg/account"
)

var accountForce bool

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage the local identity",
}

var accountNewCmd = &cobra.Command{
	Use:         "new FILE",
	Short:       "Create a new identity file",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{"config": "none"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err == nil && !accountForce {
			return fmt.Errorf("%s exists, use --force to overwrite it", args[0])
		}

		id, err := account.GenerateIdentity()
		if err != nil {
			return err
		}
		if err := id.Save(args[0]); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), id.Account())
		return nil
	},
}

var accountShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configured identity's Account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		id, err := account.LoadIdentity(conf.Core.Identity)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), id.Account())
		return nil
	},
}

func init() {
	accountNewCmd.Flags().BoolVar(&accountForce, "force", false, "overwrite an existing file")

	accountCmd.AddCommand(accountNewCmd)
	accountCmd.AddCommand(accountShowCmd)
}
