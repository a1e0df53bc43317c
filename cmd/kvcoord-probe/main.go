// Command kvcoord-probe dials the configured store endpoints and reports
// connectivity, lease, and election health as a pre-flight diagnostic
// for this client's coordination primitives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ocx/kvcoord/internal/election"
	"github.com/ocx/kvcoord/internal/lease"
	"github.com/ocx/kvcoord/kv"
)

type check struct {
	name string
	run  func(ctx context.Context, c *kv.Client) error
}

func main() {
	configPath := flag.String("config", "", "path to a kvcoord YAML config file")
	hostsFlag := flag.String("hosts", "", "comma-separated host list, overrides the config file")
	timeout := flag.Duration("timeout", 10*time.Second, "per-check timeout")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *hostsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvcoord-probe: %v\n", err)
		os.Exit(2)
	}

	client, err := kv.NewClient(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvcoord-probe: %v\n", err)
		os.Exit(2)
	}
	defer client.Close()

	fmt.Println("kvcoord-probe — connectivity / lease / election diagnostic")
	fmt.Println("-----------------------------------------------------------")

	checks := []check{
		{"KV round-trip", checkKV},
		{"Lease grant + keepalive", checkLease},
		{"Election campaign", checkElection},
	}

	failed := false
	for _, c := range checks {
		fmt.Printf("%-28s", c.name+"...")
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		err := c.run(ctx, client)
		cancel()
		if err != nil {
			failed = true
			fmt.Println("[FAIL]")
			fmt.Printf("  >> %v\n", err)
			continue
		}
		fmt.Println("[OK]")
	}

	fmt.Println("-----------------------------------------------------------")
	if failed {
		fmt.Println("Status: one or more checks failed.")
		os.Exit(1)
	}
	fmt.Println("Status: ready.")
}

func loadConfig(path, hosts string) (kv.Config, error) {
	var cfg kv.Config
	var err error
	if path != "" {
		cfg, err = kv.LoadConfigFile(path)
		if err != nil {
			return kv.Config{}, fmt.Errorf("load config: %w", err)
		}
	}
	if hosts != "" {
		cfg.Hosts = splitCommas(hosts)
	}
	if len(cfg.Hosts) == 0 {
		return kv.Config{}, fmt.Errorf("no hosts configured: pass -hosts or -config")
	}
	return cfg, nil
}

func splitCommas(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func checkKV(ctx context.Context, c *kv.Client) error {
	key := fmt.Sprintf("__kvcoord_probe/%d", time.Now().UnixNano())
	if _, err := c.Put(ctx, key, []byte("ok")); err != nil {
		return err
	}
	res, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if !res.Found {
		return fmt.Errorf("put succeeded but get found nothing")
	}
	_, err = c.Delete(ctx, key)
	return err
}

func checkLease(ctx context.Context, c *kv.Client) error {
	l := c.Grant(ctx, 10, lease.Handler{})
	if _, err := l.ID(ctx); err != nil {
		return err
	}
	if _, err := l.KeepaliveOnce(ctx); err != nil {
		_ = l.Revoke(ctx)
		return err
	}
	return l.Revoke(ctx)
}

func checkElection(ctx context.Context, c *kv.Client) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	elected := make(chan struct{}, 1)
	failed := make(chan error, 1)
	campaign := c.Campaign(ctx, "kvcoord-probe", 10, []byte("probe"), election.Handler{
		OnElected: func() {
			select {
			case elected <- struct{}{}:
			default:
			}
		},
		OnError: func(err error) {
			select {
			case failed <- err:
			default:
			}
		},
	})

	select {
	case <-elected:
		return campaign.Resign(context.Background())
	case err := <-failed:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timed out waiting for leadership")
	}
}
