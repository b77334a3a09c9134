package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zabbar/zabbar/internal/agent"
	"github.com/zabbar/zabbar/internal/config"
	"github.com/zabbar/zabbar/internal/credentials"
	"github.com/zabbar/zabbar/internal/models"
	"github.com/zabbar/zabbar/internal/store"
	"github.com/zabbar/zabbar/internal/summary"
	"github.com/zabbar/zabbar/internal/zabbix"
)

// runtime bundles the wired components a command needs.
type runtime struct {
	cfg    *config.Config
	agent  *agent.Agent
	client *zabbix.Client
	store  store.Store
	creds  credentials.Store
}

// buildDeps wires the client, stores and agent from configuration. configFn is
// the live config accessor handed to the agent; one-shot commands pass a
// constant.
func buildDeps(cfg *config.Config, configFn func() *config.Config) (*runtime, error) {
	client := zabbix.NewClient(zabbix.ClientConfig{
		ServerURL:      cfg.ServerURL,
		ServerIdentity: cfg.ServerIdentity,
		VerifyTLS:      cfg.VerifyTLS,
		TLSFingerprint: cfg.TLSFingerprint,
		AuthTimeout:    cfg.AuthTimeout,
		FetchTimeout:   cfg.FetchTimeout,
	})

	creds, err := credentials.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}

	snapStore, err := store.New(cfg.StoreBackend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}

	provider, err := summary.NewFromConfig(cfg.Summary)
	if err != nil {
		return nil, fmt.Errorf("summarization provider: %w", err)
	}

	return &runtime{
		cfg:    cfg,
		agent:  agent.New(client, creds, snapStore, provider, configFn),
		client: client,
		store:  snapStore,
		creds:  creds,
	}, nil
}

// oneShotDeps loads config and wires dependencies for a subcommand that runs
// to completion and exits.
func oneShotDeps() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return buildDeps(cfg, func() *config.Config { return cfg })
}

var loginUsername string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the Zabbix server and store the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := oneShotDeps()
		if err != nil {
			return err
		}
		defer deps.store.Close()

		username := loginUsername
		if username == "" {
			fmt.Print("Username: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("read username: %w", err)
			}
			username = strings.TrimSpace(line)
		}
		if username == "" {
			return fmt.Errorf("username is required")
		}

		password := os.Getenv("ZABBAR_PASSWORD")
		if password == "" {
			fmt.Print("Password: ")
			bytePassword, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			password = string(bytePassword)
		}
		if password == "" {
			return fmt.Errorf("password is required")
		}

		ctx, cancel := context.WithTimeout(context.Background(), deps.cfg.AuthTimeout)
		defer cancel()
		if err := deps.agent.Login(ctx, username, password); err != nil {
			return err
		}
		deps.agent.Shutdown()

		fmt.Printf("Logged in to %s as %s\n", deps.cfg.ServerIdentity, username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and clear the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := oneShotDeps()
		if err != nil {
			return err
		}
		defer deps.store.Close()

		deps.agent.RestoreSession()
		if err := deps.agent.Logout(); err != nil {
			return err
		}
		// Give the fire-and-forget remote invalidation a moment before exit.
		time.Sleep(500 * time.Millisecond)

		fmt.Printf("Logged out from %s\n", deps.cfg.ServerIdentity)
		return nil
	},
}

var ackMessage string

var ackCmd = &cobra.Command{
	Use:   "ack <event-id>",
	Short: "Acknowledge a problem by event ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := oneShotDeps()
		if err != nil {
			return err
		}
		defer deps.store.Close()

		if !deps.agent.RestoreSession() {
			return fmt.Errorf("not logged in; run 'zabbar-agent login' first")
		}

		ctx, cancel := context.WithTimeout(context.Background(), deps.cfg.FetchTimeout)
		defer cancel()
		if err := deps.agent.Acknowledge(ctx, args[0], ackMessage); err != nil {
			return err
		}

		fmt.Printf("Acknowledged event %s\n", args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the published snapshot and agent status",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := oneShotDeps()
		if err != nil {
			return err
		}
		defer deps.store.Close()

		snapshot, err := deps.store.Load()
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		status, err := deps.store.LoadStatus()
		if err != nil {
			log.Debug().Err(err).Msg("No agent status available")
		}

		printStatus(snapshot, status)
		return nil
	},
}

func printStatus(snapshot models.Snapshot, status models.AgentStatus) {
	fmt.Printf("Server:        %s\n", snapshot.ServerIdentity)
	fmt.Printf("Authenticated: %v\n", snapshot.Authenticated)
	if status.State != "" {
		fmt.Printf("Agent state:   %s\n", status.State)
	}
	if !status.LastCycle.IsZero() {
		fmt.Printf("Last cycle:    %s\n", status.LastCycle.Format(time.RFC3339))
	}
	if status.LastError != "" {
		fmt.Printf("Last error:    %s\n", status.LastError)
	}
	if !snapshot.LastUpdate.IsZero() {
		fmt.Printf("Last update:   %s\n", snapshot.LastUpdate.Format(time.RFC3339))
	}
	fmt.Printf("Unacknowledged: %d\n", snapshot.UnacknowledgedCount)

	if snapshot.SummaryText != "" {
		fmt.Printf("\nSummary: %s\n", snapshot.SummaryText)
	}
	if len(snapshot.Alerts) == 0 {
		fmt.Println("\nNo active alerts")
		return
	}
	fmt.Printf("\nActive alerts (%d shown, cap %d):\n", len(snapshot.Alerts), snapshot.ResultCap)
	for _, alert := range snapshot.Alerts {
		ack := " "
		if alert.Acknowledged {
			ack = "*"
		}
		fmt.Printf("  %s [%s] %s (since %s)\n",
			ack, models.SeverityName(alert.Severity), alert.Title,
			alert.OccurredAt.Format("2006-01-02 15:04"))
	}
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "Zabbix username")
	ackCmd.Flags().StringVarP(&ackMessage, "message", "m", "", "acknowledgement message")
}
