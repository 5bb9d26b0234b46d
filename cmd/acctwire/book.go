// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/book"
)

var (
	bookKind    string
	bookPrimary bool
)

var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Manage the local address book",
}

func printEntry(w io.Writer, acc account.Account, addr account.Address) {
	fmt.Fprintf(w, "Account = %v\n", acc)
	fmt.Fprintf(w, "Address = %v\n", addr)
}

// withBook runs f on the configured Book and the --kind flag.
func withBook(f func(b *book.Book, kind account.Kind) error) error {
	kind, err := account.ParseKind(bookKind)
	if err != nil {
		return err
	}

	b, err := openBook()
	if err != nil {
		return err
	}
	defer b.Close()

	return f(b, kind)
}

var bookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := openBook()
		if err != nil {
			return err
		}
		defer b.Close()

		entries, err := b.Entries()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tADDRESS\tPRIMARY")
		for _, e := range entries {
			fmt.Fprintf(w, "%v\t%v\t%t\n", e.Account, e.Address, e.Primary)
		}
		return w.Flush()
	},
}

var bookGetCmd = &cobra.Command{
	Use:   "get [ACCOUNT]",
	Short: "Print an Account's Address, or the primary's without an Account",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBook(func(b *book.Book, kind account.Kind) error {
			if len(args) == 0 {
				acc, addr, err := b.Primary(kind)
				if err != nil {
					return err
				}
				printEntry(cmd.OutOrStdout(), acc, addr)
				return nil
			}

			acc, err := account.Parse(args[0])
			if err != nil {
				return err
			}
			addr, err := b.Address(acc, kind)
			if err != nil {
				return err
			}
			printEntry(cmd.OutOrStdout(), acc, addr)
			return nil
		})
	},
}

var bookSetCmd = &cobra.Command{
	Use:   "set ACCOUNT ADDRESS",
	Short: "Store an Account's Address, e.g., tcp://198.51.100.7:7700",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, err := account.Parse(args[0])
		if err != nil {
			return err
		}
		addr, err := account.ParseAddress(args[1])
		if err != nil {
			return err
		}

		b, err := openBook()
		if err != nil {
			return err
		}
		defer b.Close()

		if bookPrimary {
			return b.SetPrimary(acc, addr)
		}
		return b.SetAddress(acc, addr)
	},
}

var bookDeleteCmd = &cobra.Command{
	Use:   "delete [ACCOUNT]",
	Short: "Delete an Account's Address, or the primary Account without an Account",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBook(func(b *book.Book, kind account.Kind) error {
			var acc account.Account
			if len(args) == 0 {
				primary, _, err := b.Primary(kind)
				if primary.IsZero() {
					return err
				}
				if err := b.DeletePrimary(kind); err != nil {
					return err
				}
				acc = primary
			} else {
				var err error
				if acc, err = account.Parse(args[0]); err != nil {
					return err
				}
			}

			return deleteAddress(cmd.OutOrStdout(), b, acc, kind)
		})
	},
}

func deleteAddress(w io.Writer, b *book.Book, acc account.Account, kind account.Kind) error {
	if err := b.DeleteAddress(acc, kind); err != nil {
		return err
	}
	fmt.Fprintf(w, "Account = %v\n", acc)
	return nil
}

func init() {
	for _, cmd := range []*cobra.Command{bookGetCmd, bookDeleteCmd} {
		cmd.Flags().StringVarP(&bookKind, "kind", "k", string(account.KindTCP), "transport kind")
	}
	bookSetCmd.Flags().BoolVarP(&bookPrimary, "primary", "p", false, "make this Account the primary of its Address's kind")

	bookCmd.AddCommand(bookListCmd)
	bookCmd.AddCommand(bookGetCmd)
	bookCmd.AddCommand(bookSetCmd)
	bookCmd.AddCommand(bookDeleteCmd)
}
