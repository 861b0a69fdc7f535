package main

import (
	"context"

	"github.com/caasmo/certrenew"
	"github.com/caasmo/certrenew/config"
	"github.com/caasmo/certrenew/coordinator"
)

// configDomainSource adapts a static config-file domain list to
// coordinator.DomainSource (SPEC_FULL §C.2's "membership predicate", spec
// §1: "persistence format of application-level 'which domains are
// configured' data... the core only reads a membership predicate" — here
// that predicate is simply "every domain named in config.toml").
type configDomainSource struct {
	domains []string
}

func (s *configDomainSource) Domains(ctx context.Context) ([]string, error) {
	return s.domains, nil
}

// sweeperDaemon wraps *coordinator.Sweeper so certd can manage its
// lifecycle alongside the HTTP server the way the teacher's server.Server
// manages Daemon instances (server/server.go).
type sweeperDaemon struct {
	sweeper *coordinator.Sweeper
}

func newSweeperDaemon(certs *certrenew.Certs, cfg *config.Config) *sweeperDaemon {
	source := &configDomainSource{domains: cfg.Sweeper.Domains}
	return &sweeperDaemon{
		sweeper: certs.Sweeper(source, cfg.Sweeper.Interval, cfg.Sweeper.Concurrency),
	}
}

func (d *sweeperDaemon) Start(ctx context.Context) { d.sweeper.Start(ctx) }

func (d *sweeperDaemon) Stop(ctx context.Context) error { return d.sweeper.Stop(ctx) }
