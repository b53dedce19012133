// Command nts-client queries one NTS-secured NTP server: it runs the full
// NTS-KE handshake, then one authenticated NTP exchange, and prints the
// resulting clock offset (spec.md §4.4, §4.6, §4.9).
package main

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"

	"github.com/cvsouth/nts-go/internal/keclient"
	"github.com/cvsouth/nts-go/internal/ntpclient"
	"github.com/cvsouth/nts-go/internal/resolver"
	"github.com/spf13/cobra"
)

var (
	port     int
	certFile string
	ipv4Only bool
	ipv6Only bool
)

func main() {
	root := &cobra.Command{
		Use:           "nts-client <host>",
		Short:         "Query an NTS-secured NTP server once and print the offset",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().IntVarP(&port, "port", "p", 4460, "NTS-KE server port")
	root.Flags().StringVarP(&certFile, "cert", "c", "", "PEM trust anchor (default: system roots)")
	root.Flags().BoolVarP(&ipv4Only, "ipv4", "4", false, "resolve and connect over IPv4 only")
	root.Flags().BoolVarP(&ipv6Only, "ipv6", "6", false, "resolve and connect over IPv6 only")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nts-client: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if ipv4Only && ipv6Only {
		return fmt.Errorf("--ipv4 and --ipv6 are mutually exclusive")
	}
	family := resolver.FamilyAny
	switch {
	case ipv4Only:
		family = resolver.FamilyIPv4
	case ipv6Only:
		family = resolver.FamilyIPv6
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	host := args[0]

	var trustRoots *x509.CertPool
	if certFile != "" {
		pem, err := os.ReadFile(certFile)
		if err != nil {
			return fmt.Errorf("read trust anchor: %w", err)
		}
		trustRoots = x509.NewCertPool()
		if !trustRoots.AppendCertsFromPEM(pem) {
			return fmt.Errorf("no certificates parsed from %s", certFile)
		}
	}

	ctx := context.Background()

	est, err := keclient.Exchange(ctx, keclient.Config{
		Host:       host,
		Port:       port,
		Family:     family,
		TrustRoots: trustRoots,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("nts-ke exchange: %w", err)
	}
	logger.Info("nts-ke exchange complete", "cookies", len(est.Cookies), "next_server", est.NextServer, "next_port", est.NextPort)

	res, err := ntpclient.Query(ctx, resolver.NewNet(), est, family)
	if err != nil {
		return fmt.Errorf("ntp query: %w", err)
	}

	fmt.Printf("server: %s:%d\n", est.NextServer, est.NextPort)
	fmt.Printf("stratum: %d\n", res.Stratum)
	fmt.Printf("offset: %+.6f s\n", res.Offset)
	return nil
}
