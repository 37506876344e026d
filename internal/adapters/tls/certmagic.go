// Package tls obtains ACME certificates for the API server using CertMagic
// with DNS-01 challenges against Azure DNS.
package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"

	"github.com/jobrunner/zipcat/internal/config"
	"github.com/jobrunner/zipcat/internal/domain"
)

// Manager issues and renews certificates for the configured domains.
type Manager struct {
	domains []string
	magic   *certmagic.Config
	logger  *slog.Logger
}

// NewManager configures CertMagic. It returns nil when TLS is disabled, so
// callers can pass the result straight to the server.
func NewManager(cfg config.TLSConfig, logger *slog.Logger) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if len(cfg.Domains) == 0 || cfg.Email == "" {
		return nil, &domain.ConfigError{Field: "tls", Message: "domains and email are required"}
	}

	if cfg.CacheDir != "" {
		certmagic.Default.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}
	magic := certmagic.NewDefault()

	issuer := certmagic.NewACMEIssuer(magic, certmagic.ACMEIssuer{
		Agreed: true,
		Email:  cfg.Email,
		CA:     certmagic.LetsEncryptProductionCA,
		DNS01Solver: &certmagic.DNS01Solver{
			DNSManager: certmagic.DNSManager{
				DNSProvider: &azure.Provider{
					SubscriptionId:    cfg.AzureDNS.SubscriptionID,
					ResourceGroupName: cfg.AzureDNS.ResourceGroupName,
					ClientId:          cfg.AzureDNS.ClientID,
				},
			},
		},
	})
	if cfg.Staging {
		issuer.CA = certmagic.LetsEncryptStagingCA
	}
	magic.Issuers = []certmagic.Issuer{issuer}

	return &Manager{domains: cfg.Domains, magic: magic, logger: logger}, nil
}

// Obtain fetches or renews certificates for all domains and keeps them
// managed in the background.
func (m *Manager) Obtain(ctx context.Context) error {
	m.logger.Info("obtaining certificates", "domains", m.domains)
	if err := m.magic.ManageSync(ctx, m.domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}
	return nil
}

// TLSConfig returns a server TLS configuration backed by the managed
// certificates.
func (m *Manager) TLSConfig() *tls.Config {
	return m.magic.TLSConfig()
}

// Domains returns the managed domain names.
func (m *Manager) Domains() []string {
	return m.domains
}
