// SPDX-FileCopyrightText: 2026 The acctwire Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package admin serves a daemon's HTTP administration interface: its address
// book and its Prometheus metrics.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/acctwire/acctwire-go/pkg/account"
	"github.com/acctwire/acctwire-go/pkg/book"
	"github.com/acctwire/acctwire-go/pkg/wire"
)

// Admin is the HTTP administration interface.
type Admin struct {
	router *mux.Router
	book   *book.Book
}

// NewAdmin registers its routes on the router. A nil Gatherer disables the
// /metrics endpoint.
func NewAdmin(router *mux.Router, b *book.Book, gatherer prometheus.Gatherer) *Admin {
	a := &Admin{
		router: router,
		book:   b,
	}

	a.router.HandleFunc("/book", a.handleEntries).Methods(http.MethodGet)
	a.router.HandleFunc("/book/primary/{kind}", a.handlePrimary).Methods(http.MethodGet)
	a.router.HandleFunc("/book/{kind}/{account}", a.handleGet).Methods(http.MethodGet)
	a.router.HandleFunc("/book/{account}", a.handleSet).Methods(http.MethodPut)
	a.router.HandleFunc("/book/{kind}/{account}", a.handleDelete).Methods(http.MethodDelete)

	if gatherer != nil {
		a.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return a
}

// ServeHTTP is a http.Handler to be bound to a HTTP endpoint.
func (a *Admin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *Admin) respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write admin response")
	}
}

func (a *Admin) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, wire.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}

	a.respond(w, status, ErrorResponse{Error: err.Error()})
}

var errBadRequest = errors.New("bad request")

// vars parses a route's kind and account variables, if present.
func vars(r *http.Request) (kind account.Kind, acc account.Account, err error) {
	v := mux.Vars(r)

	if s, ok := v["kind"]; ok {
		if kind, err = account.ParseKind(s); err != nil {
			err = fmt.Errorf("%w: %v", errBadRequest, err)
			return
		}
	}
	if s, ok := v["account"]; ok {
		if acc, err = account.Parse(s); err != nil {
			err = fmt.Errorf("%w: %v", errBadRequest, err)
			return
		}
	}
	return
}

// handleEntries processes /book GET requests.
func (a *Admin) handleEntries(w http.ResponseWriter, _ *http.Request) {
	entries, err := a.book.Entries()
	if err != nil {
		a.fail(w, err)
		return
	}

	msgs := make([]EntryMessage, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, newEntryMessage(e))
	}
	a.respond(w, http.StatusOK, msgs)
}

// handlePrimary processes /book/primary/{kind} GET requests.
func (a *Admin) handlePrimary(w http.ResponseWriter, r *http.Request) {
	kind, _, err := vars(r)
	if err != nil {
		a.fail(w, err)
		return
	}

	acc, addr, err := a.book.Primary(kind)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.respond(w, http.StatusOK, EntryMessage{Account: acc, Address: addr, Primary: true})
}

// handleGet processes /book/{kind}/{account} GET requests.
func (a *Admin) handleGet(w http.ResponseWriter, r *http.Request) {
	kind, acc, err := vars(r)
	if err != nil {
		a.fail(w, err)
		return
	}

	addr, err := a.book.Address(acc, kind)
	if err != nil {
		a.fail(w, err)
		return
	}

	primary, _, primaryErr := a.book.Primary(kind)
	a.respond(w, http.StatusOK, EntryMessage{Account: acc, Address: addr, Primary: primaryErr == nil && primary == acc})
}

// handleSet processes /book/{account} PUT requests.
func (a *Admin) handleSet(w http.ResponseWriter, r *http.Request) {
	_, acc, err := vars(r)
	if err != nil {
		a.fail(w, err)
		return
	}

	var req SetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.fail(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	} else if req.Address.IsZero() {
		a.fail(w, fmt.Errorf("%w: address is missing", errBadRequest))
		return
	}

	log.WithFields(log.Fields{
		"account": acc.Short(),
		"address": req.Address,
		"primary": req.Primary,
	}).Info("Processing admin book update")

	if req.Primary {
		err = a.book.SetPrimary(acc, req.Address)
	} else {
		err = a.book.SetAddress(acc, req.Address)
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	a.respond(w, http.StatusOK, EntryMessage{Account: acc, Address: req.Address, Primary: req.Primary})
}

// handleDelete processes /book/{kind}/{account} DELETE requests. Deleting the
// primary Account's Address also removes its primary role.
func (a *Admin) handleDelete(w http.ResponseWriter, r *http.Request) {
	kind, acc, err := vars(r)
	if err != nil {
		a.fail(w, err)
		return
	}

	if primary, _, err := a.book.Primary(kind); err == nil && primary == acc {
		if err := a.book.DeletePrimary(kind); err != nil {
			a.fail(w, err)
			return
		}
	}

	if err := a.book.DeleteAddress(acc, kind); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
