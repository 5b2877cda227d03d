package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardian231/notify-wa/internal/config"
	"github.com/ardian231/notify-wa/internal/httpapi"
	"github.com/ardian231/notify-wa/internal/ledger"
)

var failuresLimit int

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerListCmd, ledgerFailuresCmd, ledgerForgetCmd)
	ledgerFailuresCmd.Flags().IntVarP(&failuresLimit, "limit", "n", 20, "number of records to show")
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect delivered and failed messages",
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List delivered message keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, err := openStores(ctx, loadConfig())
		if err != nil {
			return err
		}
		entries, err := st.ledger.Load(ctx)
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No delivered messages.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SENT\tRECIPIENT\tTAG\tKEY")
		for _, e := range entries {
			sent := "-"
			if !e.SentAt.IsZero() {
				sent = e.SentAt.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", sent, e.Recipient, e.Tag, truncate(e.Key, 60))
		}
		return w.Flush()
	},
}

var ledgerFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Show the most recent failed deliveries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, err := openStores(ctx, loadConfig())
		if err != nil {
			return err
		}
		recs, err := st.failures.Tail(ctx, failuresLimit)
		if err != nil {
			return fmt.Errorf("read failures: %w", err)
		}
		if len(recs) == 0 {
			fmt.Println("No failed deliveries.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AT\tRECIPIENT\tTAG\tATTEMPTS\tREASON")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				r.At.Local().Format("2006-01-02 15:04:05"),
				r.Recipient,
				r.Tag,
				r.Attempts,
				truncate(r.Reason, 60),
			)
		}
		return w.Flush()
	},
}

var ledgerForgetCmd = &cobra.Command{
	Use:   "forget <key>",
	Short: "Remove a key from the ledger so the message can be sent again",
	Long: `Remove a key from the ledger so the message can be sent again.

A running daemon keeps its own view of the ledger, so the key is forgotten
through its HTTP API when one is up. Without a daemon the store is edited
directly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg := loadConfig()
		key := args[0]

		if proc, err := daemonProcess(); err == nil {
			if !cfg.HTTP.Enabled {
				fmt.Fprintf(os.Stderr, "Warning: daemon (PID %d) is running with HTTP disabled; it will keep skipping this key until restarted.\n", proc.Pid)
			} else {
				if err := forgetViaDaemon(ctx, cfg, key); err != nil {
					return err
				}
				fmt.Println("Forgot", truncate(key, 60), "(via daemon)")
				return nil
			}
		}

		st, err := openStores(ctx, cfg)
		if err != nil {
			return err
		}
		led, err := ledger.Open(ctx, st.ledger)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		if !led.Has(key) {
			return fmt.Errorf("ledger key not found: %s", key)
		}
		if err := led.Forget(ctx, key); err != nil {
			return err
		}
		fmt.Println("Forgot", truncate(key, 60))
		return nil
	},
}

// daemonURL turns the listen address into a dialable base URL. An empty host
// means every interface, which loopback reaches.
func daemonURL(listen string) (string, error) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("parse http.listen %q: %w", listen, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

func forgetViaDaemon(ctx context.Context, cfg *config.Config, key string) error {
	base, err := daemonURL(cfg.HTTP.Listen)
	if err != nil {
		return err
	}
	body, err := json.Marshal(httpapi.ForgetRequest{Key: key})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/ledger/forget", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("ledger key not found: %s", key)
	default:
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("daemon forget failed: %s: %s", resp.Status, e.Error)
	}
}
