// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// acctwire is the command line tool to manage Accounts and address books, to
// call remote Accounts and to benchmark them.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/acctwire/acctwire-go/pkg/book"
	"github.com/acctwire/acctwire-go/pkg/client"
	"github.com/acctwire/acctwire-go/pkg/config"
	"github.com/acctwire/acctwire-go/pkg/connection"
)

var (
	configFile string
	verbose    bool

	conf *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "acctwire",
	Short:         "Account-addressed remote calls",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Annotations["config"] == "none" {
			return nil
		}

		var err error
		if conf, err = config.Load(configFile); err != nil {
			return fmt.Errorf("loading %s: %w", configFile, err)
		}
		conf.ApplyLogging()

		if verbose {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "acctwire.toml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(bookCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(primaryCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(benchCmd)
}

// openBook from the configuration.
func openBook() (*book.Book, error) {
	if conf.Core.Book == "" {
		return nil, fmt.Errorf("core.book is empty")
	}

	b, err := book.Open(conf.Core.Book)
	if err != nil {
		return nil, err
	}
	if err := b.Import(conf.Peer); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// newClient from the configuration, resolving through the Book. The returned
// function closes everything.
func newClient() (*client.Client, func(), error) {
	identity, err := conf.Identity()
	if err != nil {
		return nil, nil, err
	}

	b, err := openBook()
	if err != nil {
		return nil, nil, err
	}

	m := connection.NewManager(identity, conf.Registry(), conf.ConnectionConfig(), nil)
	closer := func() {
		if err := m.Close(); err != nil {
			log.WithError(err).Debug("Closing connections failed")
		}
		_ = b.Close()
	}

	return client.New(m, b, conf.ClientConfig()), closer, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
