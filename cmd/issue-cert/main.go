// Command issue-cert is a one-shot CLI adapted from the teacher's
// cmd/issue-acme-cert (SPEC_FULL §C.4): load config, construct a Certs
// instance against a real KV store, and call GetCertificate for one domain,
// printing the resulting record. Useful for manually smoke-testing an
// install without standing up the full HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caasmo/certrenew"
	"github.com/caasmo/certrenew/config"
	"github.com/caasmo/certrenew/kv/redis"
	"github.com/caasmo/certrenew/logging"
	"github.com/caasmo/certrenew/secure"
)

func main() {
	var configPath, domainName string
	flag.StringVar(&configPath, "config", "config.toml", "path to config TOML file")
	flag.StringVar(&domainName, "domain", "", "domain to issue/renew a certificate for (required)")
	flag.Parse()

	logger := logging.New("text", nil)
	slog.SetDefault(logger)

	if domainName == "" {
		logger.Error("issue-cert: -domain is required")
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("issue-cert: failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	client := redis.New(cfg.KV.Addr, cfg.KV.Password, cfg.KV.DB)

	opts := []certrenew.Option{
		certrenew.WithKV(client),
		certrenew.WithConfig(cfg),
		certrenew.WithLogger(logger),
	}
	if cfg.Secure.AgeKeyPath != "" {
		crypter := secure.NewAgeCrypter(cfg.Secure.AgeKeyPath)
		opts = append(opts, certrenew.WithTransforms(crypter.Encrypt, crypter.Decrypt))
	}

	certs, err := certrenew.New(opts...)
	if err != nil {
		logger.Error("issue-cert: failed to construct certs instance", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logger.Info("issue-cert: requesting certificate", "domain", domainName)
	rec, err := certs.GetCertificate(ctx, domainName)
	if err != nil {
		logger.Error("issue-cert: failed", "domain", domainName, "error", err)
		os.Exit(1)
	}
	if rec == nil {
		logger.Warn("issue-cert: domain has never been provisioned and could not be obtained", "domain", domainName)
		os.Exit(1)
	}

	fmt.Printf("domain:       %s\n", rec.Domain)
	fmt.Printf("status:       %s\n", rec.Status)
	fmt.Printf("serialNumber: %s\n", rec.SerialNumber)
	fmt.Printf("fingerprint:  %s\n", rec.Fingerprint)
	fmt.Printf("altNames:     %v\n", rec.AltNames)
	fmt.Printf("validFrom:    %s\n", rec.ValidFrom)
	fmt.Printf("validTo:      %s\n", rec.ValidTo)
	fmt.Printf("certVersion:  %d\n", rec.CertVersion)
}
