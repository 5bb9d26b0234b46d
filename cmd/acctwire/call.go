// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

var (
	callAddress string
	callOpcode  string
	callHex     bool
	callStdin   bool
)

// parseOpcode accepts decimal and 0x-prefixed hexadecimal application opcodes.
func parseOpcode(s string) (wire.Opcode, error) {
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid opcode %q: %w", s, err)
	}

	op := wire.Opcode(n)
	if !op.IsApplication() {
		return 0, fmt.Errorf("opcode %v is outside the application range", op)
	}
	return op, nil
}

// parseTarget reads an Account and the optional --address flag.
func parseTarget(accStr, addrStr string) (acc account.Account, addr account.Address, err error) {
	if acc, err = account.Parse(accStr); err != nil {
		return
	}
	if addrStr != "" {
		addr, err = account.ParseAddress(addrStr)
	}
	return
}

var callCmd = &cobra.Command{
	Use:   "call ACCOUNT [PAYLOAD]",
	Short: "Call a remote Account and print its response",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, addr, err := parseTarget(args[0], callAddress)
		if err != nil {
			return err
		}
		op, err := parseOpcode(callOpcode)
		if err != nil {
			return err
		}

		var payload []byte
		switch {
		case callStdin:
			if payload, err = io.ReadAll(os.Stdin); err != nil {
				return err
			}
		case len(args) == 2 && callHex:
			if payload, err = hex.DecodeString(args[1]); err != nil {
				return err
			}
		case len(args) == 2:
			payload = []byte(args[1])
		}

		c, closer, err := newClient()
		if err != nil {
			return err
		}
		defer closer()

		var resp []byte
		if addr.IsZero() {
			resp, err = c.Call(context.Background(), acc, op, payload)
		} else {
			resp, err = c.CallAt(context.Background(), acc, addr, op, payload)
		}
		if err != nil {
			return err
		}

		if callHex {
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(resp))
		} else {
			_, err = cmd.OutOrStdout().Write(resp)
		}
		return err
	},
}

var primaryCmd = &cobra.Command{
	Use:   "primary ACCOUNT",
	Short: "Ask a remote Account for its primary Account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, addr, err := parseTarget(args[0], callAddress)
		if err != nil {
			return err
		}

		c, closer, err := newClient()
		if err != nil {
			return err
		}
		defer closer()

		if addr.IsZero() {
			if addr, err = c.ResolveAddress(context.Background(), acc); err != nil {
				return err
			}
		}

		rec, err := c.RemotePrimary(context.Background(), acc, addr, addr.Kind)
		if err != nil {
			return err
		}
		printEntry(cmd.OutOrStdout(), rec.Account, rec.Address)
		return nil
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish ACCOUNT ADDRESS",
	Short: "Publish an Account's Address at the primary, only allowed for the primary itself",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, addr, err := parseTarget(args[0], args[1])
		if err != nil {
			return err
		}

		c, closer, err := newClient()
		if err != nil {
			return err
		}
		defer closer()

		return c.PublishAddress(context.Background(), acc, addr)
	},
}

func init() {
	callCmd.Flags().StringVarP(&callAddress, "address", "a", "", "explicit address, skipping the book")
	callCmd.Flags().StringVarP(&callOpcode, "opcode", "o", "1", "application opcode")
	callCmd.Flags().BoolVarP(&callHex, "hex", "x", false, "hex encoded payload and response")
	callCmd.Flags().BoolVar(&callStdin, "stdin", false, "read the payload from stdin")

	primaryCmd.Flags().StringVarP(&callAddress, "address", "a", "", "explicit address, skipping the book")
}
