// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/admin"
	"github.com/acctwire/acctwire-go/pkg/book"
	"github.com/acctwire/acctwire-go/pkg/config"
	"github.com/acctwire/acctwire-go/pkg/server"
	"github.com/acctwire/acctwire-go/pkg/transport"
)

// daemon bundles everything acctwired runs.
type daemon struct {
	identity *account.Identity
	book     *book.Book
	registry *prometheus.Registry

	servers   []*server.Server
	addresses []account.Address

	admin     *http.Server
	adminAddr net.Addr

	stopWatch context.CancelFunc
}

func newDaemon(conf *config.Config) (d *daemon, err error) {
	d = &daemon{registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = d.Close()
			d = nil
		}
	}()

	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if d.identity, err = conf.Identity(); err != nil {
		return
	}
	log.WithField("account", d.identity.Account()).Info("Loaded identity")

	if conf.Core.Book == "" {
		err = fmt.Errorf("core.book is empty")
		return
	}
	if d.book, err = book.Open(conf.Core.Book); err != nil {
		return
	}
	if err = d.book.Import(conf.Peer); err != nil {
		return
	}

	var watchCtx context.Context
	watchCtx, d.stopWatch = context.WithCancel(context.Background())
	if conf.Core.PeersFile != "" {
		if err = d.book.Watch(watchCtx, conf.Core.PeersFile); err != nil {
			return
		}
	}

	if len(conf.Listen) == 0 {
		err = fmt.Errorf("no listen block is configured")
		return
	}

	registry := conf.Registry()
	for _, l := range conf.Listen {
		if err = d.listen(conf, registry, l); err != nil {
			return
		}
	}

	if conf.Admin.Listen != "" {
		err = d.serveAdmin(conf.Admin.Listen)
	}
	return
}

// listen starts a Server for a listen block. Each Server's metrics carry the
// configured address as a label.
func (d *daemon) listen(conf *config.Config, registry *transport.Registry, l config.ListenConf) error {
	t, err := registry.Lookup(l.Kind)
	if err != nil {
		return err
	}

	serverConf := conf.ServerConfig()
	serverConf.Registerer = prometheus.WrapRegistererWith(prometheus.Labels{"listen": fmt.Sprintf("%s://%s", l.Kind, l.Address)}, d.registry)

	srv := server.New(d.identity, t, serverConf)
	srv.AttachBook(d.book)
	srv.AttachBuiltins()

	netAddr, err := srv.Listen(l.Address)
	if err != nil {
		return fmt.Errorf("listening on %s://%s: %w", l.Kind, l.Address, err)
	}
	d.servers = append(d.servers, srv)

	addr, err := account.NewAddress(l.Kind, netAddr.String())
	if err != nil {
		return err
	}
	d.addresses = append(d.addresses, addr)

	// The primary Account keeps its own Address current.
	if primary, _, err := d.book.Primary(l.Kind); (err == nil || errors.Is(err, book.ErrNotFound)) && primary == d.identity.Account() {
		if err := d.book.SetPrimary(primary, addr); err != nil {
			log.WithError(err).Warn("Failed to update own primary address")
		}
	}

	log.WithFields(log.Fields{
		"kind":    l.Kind,
		"address": addr,
	}).Info("Daemon listens")
	return nil
}

func (d *daemon) serveAdmin(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("admin endpoint: %w", err)
	}

	d.adminAddr = ln.Addr()
	d.admin = &http.Server{
		Handler:           admin.NewAdmin(mux.NewRouter(), d.book, d.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := d.admin.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Admin endpoint failed")
		}
	}()

	log.WithField("address", d.adminAddr).Info("Admin endpoint listens")
	return nil
}

// Close everything in reverse order of its creation.
func (d *daemon) Close() (err error) {
	if d.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if shutdownErr := d.admin.Shutdown(ctx); shutdownErr != nil {
			err = multierror.Append(err, shutdownErr)
		}
	}

	for _, srv := range d.servers {
		if closeErr := srv.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}

	if d.stopWatch != nil {
		d.stopWatch()
	}

	if d.book != nil {
		if closeErr := d.book.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	}

	return
}
