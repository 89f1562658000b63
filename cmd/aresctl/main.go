// Command aresctl is the end-user CLI for the resolver daemon.
//
// It talks to aresdnsd over a Unix domain socket to resolve hostnames,
// gRPC load balancer SRV records, and gRPC service config TXT records,
// and to report the daemon's status.
//
// Usage:
//
//	aresctl hostname <host> [<host>...] [--port <port>]  - Resolve one or more hostnames
//	aresctl srv <host>                                    - Resolve a gRPC load balancer SRV record
//	aresctl txt <host>                                    - Resolve a gRPC service config TXT record
//	aresctl status                                        - Show daemon status
//
// Examples:
//
//	aresctl hostname example.com                  - Resolve example.com
//	aresctl hostname a.example.com b.example.com  - Resolve both concurrently
//	aresctl hostname example.com --port 8443      - Use 8443 for any host that omits its own port
//	aresctl srv lb.example.com                    - Resolve lb.example.com's load balancer record
//	aresctl txt lb.example.com                     - Resolve lb.example.com's service config
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/aresdns/aresdns/internal/buildinfo"
	"github.com/aresdns/aresdns/internal/config"
	"github.com/aresdns/aresdns/pkg/api"
	"github.com/aresdns/aresdns/pkg/client"
)

func main() {
	cfg, err := config.New().Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	cli := client.New(cfg.Socket.Path)

	root := &cobra.Command{
		Use:   "aresctl",
		Short: "aresctl is the CLI for the resolver daemon",
		Long: `aresctl talks to the background resolver daemon over its Unix socket to
resolve hostnames, gRPC load balancer SRV records, and gRPC service config
TXT records, and to report the daemon's status.`,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("version: %s\n", buildinfo.Version)
			fmt.Printf("commit: %s\n", buildinfo.Commit)
		},
	}

	var defaultPort string
	hostnameCmd := &cobra.Command{
		Use:   "hostname <host> [<host>...]",
		Short: "Resolve one or more hostnames to addresses",
		Long: `Resolve one or more hostnames to a sorted list of addresses.
Hostnames are resolved concurrently; a failure on one does not stop the rest.`,
		Example: "aresctl hostname a.example.com b.example.com --port 8443",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runHostnameLookups(cli, args, defaultPort)
		},
	}
	hostnameCmd.Flags().StringVar(&defaultPort, "port", "443", "default port for addresses that omit one")

	srvCmd := &cobra.Command{
		Use:     "srv <host>",
		Short:   "Resolve a gRPC load balancer SRV record",
		Example: "aresctl srv lb.example.com",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			resp, err := cli.LookupSRV(ctx, args[0])
			if err != nil {
				return err
			}
			if len(resp.Records) == 0 {
				color.Yellow("No SRV records found for %s", args[0])
				return nil
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Host", "Port", "Priority", "Weight"})
			table.SetBorder(false)
			for _, r := range resp.Records {
				table.Append([]string{r.Host, fmt.Sprint(r.Port), fmt.Sprint(r.Priority), fmt.Sprint(r.Weight)})
			}
			table.Render()
			return nil
		},
	}

	txtCmd := &cobra.Command{
		Use:     "txt <host>",
		Short:   "Resolve a gRPC service config TXT record",
		Example: "aresctl txt lb.example.com",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			resp, err := cli.LookupTXT(ctx, args[0])
			if err != nil {
				return err
			}
			if resp.Value == "" {
				color.Yellow("No service config TXT record found for %s", args[0])
				return nil
			}
			fmt.Println(resp.Value)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's current status",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			resp, err := cli.Status(ctx)
			if err != nil {
				return err
			}
			color.New(color.Bold).Println("DAEMON STATUS:")
			fmt.Printf("  version:        %s (%s)\n", resp.Version, resp.Commit)
			fmt.Printf("  uptime:         %s\n", resp.Uptime.Round(time.Second))
			fmt.Printf("  active sockets: %d\n", resp.ActiveSockets)
			return nil
		},
	}

	root.AddCommand(hostnameCmd, srvCmd, txtCmd, statusCmd, versionCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// runHostnameLookups resolves hosts concurrently and prints one table per
// host, returning a combined error if any lookup failed so the process
// exits non-zero without hiding the results of the lookups that succeeded.
func runHostnameLookups(cli *client.Client, hosts []string, defaultPort string) error {
	results := make([]api.LookupHostnameResponse, len(hosts))
	errs := make([]error, len(hosts))

	g, ctx := errgroup.WithContext(context.Background())
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			resp, err := cli.LookupHostname(lctx, host, defaultPort)
			results[i], errs[i] = resp, err
			return nil
		})
	}
	_ = g.Wait()

	var combined error
	for i, host := range hosts {
		color.New(color.Bold).Printf("%s:\n", host)
		if errs[i] != nil {
			color.Red("  %v", errs[i])
			combined = multierr.Append(combined, fmt.Errorf("%s: %w", host, errs[i]))
			continue
		}
		if len(results[i].Addrs) == 0 {
			color.Yellow("  no addresses found")
			continue
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"IP", "Port"})
		table.SetBorder(false)
		for _, a := range results[i].Addrs {
			table.Append([]string{a.IP, fmt.Sprint(a.Port)})
		}
		table.Render()
	}
	return combined
}
