// Package cli provides the command-line interface for kerminal-tunnel.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/klpod221/kerminal-sub000/internal/appconfig"
	"github.com/klpod221/kerminal-sub000/internal/doctor"
	"github.com/klpod221/kerminal-sub000/internal/events"
	"github.com/klpod221/kerminal-sub000/internal/group"
	"github.com/klpod221/kerminal-sub000/internal/model"
	"github.com/klpod221/kerminal-sub000/internal/sshconf"
	"github.com/klpod221/kerminal-sub000/internal/sshpool"
	"github.com/klpod221/kerminal-sub000/internal/store"
	"github.com/klpod221/kerminal-sub000/internal/tunnel"
	"github.com/klpod221/kerminal-sub000/internal/util"
)

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "kerminal-tunnel",
		Short: "SSH tunnel supervisor: local, remote and dynamic (SOCKS5) forwarding",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newStartCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newEventsCmd())
	root.AddCommand(newImportCmd())
	root.AddCommand(newGroupCmd())
	return root
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// storePath loads the app config, wires logging and resolves the store file.
func storePath() (string, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return "", err
	}
	setupLogging(cfg.LogLevel)
	return cfg.StoreFilePath()
}

func openStore() (*store.File, string, error) {
	path, err := storePath()
	if err != nil {
		return nil, "", err
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, "", err
	}
	return st, path, nil
}

func newServeCmd() *cobra.Command {
	var noAutoStart bool
	var groupName string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the tunnel service until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			svc := tunnel.NewService(st, sshpool.New(nil), events.NewStore())
			switch {
			case groupName != "":
				g, err := group.Get(groupName)
				if err != nil {
					return err
				}
				for _, id := range g.TunnelIDs {
					if err := svc.Start(id); err != nil {
						slog.Error("group member failed to start", "group", g.Name, "tunnel", id, "error", err)
					}
				}
			case !noAutoStart:
				svc.AutoStartSweep()
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			s := <-sig
			slog.Info("shutting down", "signal", s.String())
			svc.DisconnectAll()
			return nil
		},
	}
	serve.Flags().BoolVar(&noAutoStart, "no-auto-start", false, "skip the auto-start sweep at startup")
	serve.Flags().StringVar(&groupName, "group", "", "start this tunnel group instead of the auto-start set")
	return serve
}

// newStartCmd runs the named tunnels in the foreground. Tunnels are
// goroutines of this process, so they live as long as the command does;
// interrupting it stops them.
func newStartCmd() *cobra.Command {
	start := &cobra.Command{
		Use:   "start TUNNEL_ID...",
		Short: "Run the named tunnels in the foreground until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			svc := tunnel.NewService(st, sshpool.New(nil), events.NewStore())
			started := 0
			for _, id := range args {
				if err := svc.Start(id); err != nil {
					slog.Error("start failed", "tunnel", id, "error", err)
					continue
				}
				started++
			}
			if started == 0 {
				return fmt.Errorf("no tunnel could be started")
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			svc.DisconnectAll()
			return nil
		},
	}
	return start
}

// newStatusCmd reports each tunnel's last journaled state. It reads the event
// journal rather than live registries, so it works regardless of whether a
// serve process is currently running.
func newStatusCmd() *cobra.Command {
	var jsonOut bool
	status := &cobra.Command{
		Use:   "status",
		Short: "Show each tunnel's last journaled state",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			recs, err := events.NewStore().Read(events.Query{})
			if err != nil {
				return err
			}
			last := make(map[string]events.Event, len(recs))
			for _, evt := range recs {
				last[evt.TunnelID] = evt
			}

			type row struct {
				ID     string           `json:"id"`
				Type   model.TunnelType `json:"type"`
				Status model.Status     `json:"status"`
				Error  string           `json:"error,omitempty"`
				Seen   time.Time        `json:"seen,omitzero"`
			}
			rows := make([]row, 0, len(st.Tunnels()))
			for _, d := range st.Tunnels() {
				r := row{ID: d.ID, Type: d.Type, Status: model.StatusStopped}
				if evt, ok := last[d.ID]; ok {
					r.Status = evt.Status
					r.Error = evt.Message
					r.Seen = evt.Timestamp
				}
				rows = append(rows, r)
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			fmt.Printf("%-16s %-10s %-10s %-25s %s\n", "ID", "TYPE", "STATUS", "SEEN", "ERROR")
			for _, r := range rows {
				seen := "-"
				if !r.Seen.IsZero() {
					seen = r.Seen.Format(time.RFC3339)
				}
				errMsg := r.Error
				if errMsg == "" {
					errMsg = "-"
				}
				fmt.Printf("%-16s %-10s %-10s %-25s %s\n", r.ID, r.Type, r.Status, seen, errMsg)
			}
			return nil
		},
	}
	status.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return status
}

func newListCmd() *cobra.Command {
	var jsonOut bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List tunnel definitions from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			defs := st.Tunnels()
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(defs)
			}
			fmt.Printf("%-16s %-20s %-10s %-22s %-22s %-6s\n", "ID", "NAME", "TYPE", "LOCAL", "REMOTE", "AUTO")
			for _, d := range defs {
				remote := "-"
				if d.Type != "dynamic" {
					remote = util.HostPort(util.NormalizeAddr(d.RemoteHost, "localhost"), d.RemotePort)
				}
				fmt.Printf("%-16s %-20s %-10s %-22s %-22s %-6v\n", d.ID, d.Name, d.Type, d.LocalAddr(), remote, d.AutoStart)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return list
}

func newDoctorCmd() *cobra.Command {
	var jsonOut bool
	doc := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose tunnel definitions before they fail at start",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, path, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			rep := doctor.Run(st, path)
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return err
				}
			} else if len(rep.Issues) == 0 {
				fmt.Println("no issues found")
			} else {
				for _, is := range rep.Issues {
					fmt.Printf("[%s] %s %s: %s (%s)\n", is.Severity, is.Check, is.Target, is.Message, is.Recommendation)
				}
			}
			for _, is := range rep.Issues {
				if is.Severity == doctor.SeverityHigh {
					return fmt.Errorf("%d issue(s) found, at least one high severity", len(rep.Issues))
				}
			}
			return nil
		},
	}
	doc.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return doc
}

func newEventsCmd() *cobra.Command {
	var tunnelID string
	var limit int
	evs := &cobra.Command{
		Use:   "events",
		Short: "Show the tunnel lifecycle journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := events.NewStore().Read(events.Query{TunnelID: tunnelID, Limit: limit})
			if err != nil {
				return err
			}
			for _, evt := range recs {
				msg := evt.Message
				if msg == "" {
					msg = "-"
				}
				fmt.Printf("%s %-16s %-10s %s\n", evt.Timestamp.Format(time.RFC3339), evt.TunnelID, evt.Status, msg)
			}
			return nil
		},
	}
	evs.Flags().StringVar(&tunnelID, "tunnel", "", "filter by tunnel id")
	evs.Flags().IntVar(&limit, "limit", 50, "maximum events to show (newest kept)")
	return evs
}

func newImportCmd() *cobra.Command {
	var file string
	var dryRun bool
	imp := &cobra.Command{
		Use:   "import",
		Short: "Import forward directives from OpenSSH client config into the store",
		Long: `Import reads LocalForward, RemoteForward and DynamicForward directives
from OpenSSH client configuration and merges them into the tunnel store as
definitions and credential profiles. Secrets are never read from ssh_config;
imported profiles need their secret set before the tunnels can start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := storePath()
			if err != nil {
				return err
			}

			var res sshconf.ImportResult
			if file != "" {
				res, err = sshconf.ImportFile(file)
			} else {
				res, err = sshconf.ImportDefault()
			}
			if err != nil {
				return err
			}

			for _, w := range res.Warnings {
				slog.Warn("import", "detail", w)
			}
			if len(res.Tunnels) == 0 {
				fmt.Println("no forward directives found")
				return nil
			}
			for _, t := range res.Tunnels {
				fmt.Printf("%-10s %-30s profile=%s\n", t.Type, t.ID, t.Profile)
			}
			if dryRun {
				return nil
			}
			if err := store.Merge(path, res.Tunnels, res.Credentials); err != nil {
				return err
			}
			fmt.Printf("merged %d tunnels and %d profiles into %s\n", len(res.Tunnels), len(res.Credentials), path)
			return nil
		},
	}
	imp.Flags().StringVar(&file, "file", "", "ssh config to import (default ~/.ssh/config)")
	imp.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be imported without writing the store")
	return imp
}

func newGroupCmd() *cobra.Command {
	grp := &cobra.Command{
		Use:   "group",
		Short: "Manage named tunnel groups",
	}

	grp.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := group.LoadAll()
			if err != nil {
				return err
			}
			for _, g := range all {
				fmt.Printf("%-20s %s\n", g.Name, strings.Join(g.TunnelIDs, ", "))
			}
			return nil
		},
	})

	grp.AddCommand(&cobra.Command{
		Use:   "create NAME TUNNEL_ID...",
		Short: "Create or replace a group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			for _, id := range args[1:] {
				if _, err := st.Tunnel(id); err != nil {
					return err
				}
			}
			return group.Create(args[0], args[1:])
		},
	})

	grp.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return group.Delete(args[0])
		},
	})

	return grp
}
