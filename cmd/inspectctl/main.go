/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// inspectctl is a thin CLI client for the inspectord REST API: cluster and
// inspection-item management, run admission and inspection, agent
// registration, and license management.
//
// Usage:
//
//	inspectctl clusters list                      — list registered clusters
//	inspectctl runs create --cluster X --items a,b — start a run
//	inspectctl runs report <id> --format pdf       — download an artefact
//	inspectctl agents register --name edge-1       — register an agent
//	inspectctl license status                      — show license state
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var client *apiClient

func main() {
	var server string

	root := &cobra.Command{
		Use:           "inspectctl",
		Short:         "CLI client for the inspectord control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			client = newAPIClient(strings.TrimSuffix(server, "/"))
		},
	}
	defaultServer := os.Getenv("INSPECTD_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&server, "server", defaultServer, "inspectord API address")

	root.AddCommand(
		clustersCmd(),
		itemsCmd(),
		runsCmd(),
		agentsCmd(),
		licenseCmd(),
		auditCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func clustersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "clusters", Short: "Manage registered clusters"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List clusters",
		RunE: func(c *cobra.Command, args []string) error {
			var out struct {
				Clusters []struct {
					ID               string `json:"id"`
					Name             string `json:"name"`
					ConnectionStatus string `json:"connection_status"`
					K8sVersion       string `json:"kubernetes_version"`
					ExecutionMode    string `json:"execution_mode"`
				} `json:"clusters"`
			}
			if err := client.getJSON(c.Context(), "/clusters", &out); err != nil {
				return err
			}
			w := newTabWriter()
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tVERSION\tEXECUTOR")
			for _, cl := range out.Clusters {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", cl.ID, cl.Name, cl.ConnectionStatus, cl.K8sVersion, cl.ExecutionMode)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one cluster as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := client.getJSON(c.Context(), "/clusters/"+args[0], &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	})

	create := &cobra.Command{
		Use:   "create",
		Short: "Register a cluster from a kubeconfig",
		RunE: func(c *cobra.Command, args []string) error {
			name, _ := c.Flags().GetString("name")
			kubeconfig, _ := c.Flags().GetString("kubeconfig")
			promURL, _ := c.Flags().GetString("prometheus-url")
			var out json.RawMessage
			err := client.postMultipart(c.Context(), "/clusters", kubeconfig, map[string]string{
				"name":           name,
				"prometheus_url": promURL,
			}, &out)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	create.Flags().String("name", "", "cluster name (required)")
	create.Flags().String("kubeconfig", "", "path to the kubeconfig file (required)")
	create.Flags().String("prometheus-url", "", "Prometheus endpoint for promql checks")
	create.MarkFlagRequired("name")
	create.MarkFlagRequired("kubeconfig")
	cmd.AddCommand(create)

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			deleteFiles, _ := c.Flags().GetBool("delete-files")
			path := "/clusters/" + args[0]
			if deleteFiles {
				path += "?delete_files=true"
			}
			return client.delete(c.Context(), path)
		},
	}
	del.Flags().Bool("delete-files", false, "also delete the cluster's runs and report files")
	cmd.AddCommand(del)

	cmd.AddCommand(&cobra.Command{
		Use:   "test <id>",
		Short: "Re-run the connection probe",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := client.do(c.Context(), "POST", "/clusters/"+args[0]+"/test-connection", nil, "", &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	})

	return cmd
}

func itemsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "items", Short: "Manage inspection items"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List inspection items",
		RunE: func(c *cobra.Command, args []string) error {
			var out struct {
				Items []struct {
					ID        string `json:"id"`
					Name      string `json:"name"`
					CheckType string `json:"check_type"`
				} `json:"items"`
			}
			if err := client.getJSON(c.Context(), "/inspection-items", &out); err != nil {
				return err
			}
			w := newTabWriter()
			fmt.Fprintln(w, "ID\tNAME\tTYPE")
			for _, it := range out.Items {
				fmt.Fprintf(w, "%s\t%s\t%s\n", it.ID, it.Name, it.CheckType)
			}
			return w.Flush()
		},
	})

	export := &cobra.Command{
		Use:   "export",
		Short: "Dump every item as JSON",
		RunE: func(c *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := client.getJSON(c.Context(), "/inspection-items/export", &out); err != nil {
				return err
			}
			dest, _ := c.Flags().GetString("output")
			if dest == "" {
				return printJSON(out)
			}
			return os.WriteFile(dest, append([]byte(out), '\n'), 0o644)
		},
	}
	export.Flags().StringP("output", "o", "", "write to a file instead of stdout")
	cmd.AddCommand(export)

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Upload a previously exported item dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var out struct {
				Created int `json:"created"`
				Updated int `json:"updated"`
				Total   int `json:"total"`
			}
			if err := client.postMultipart(c.Context(), "/inspection-items/import", args[0], nil, &out); err != nil {
				return err
			}
			fmt.Printf("created %d, updated %d (of %d)\n", out.Created, out.Updated, out.Total)
			return nil
		},
	})

	return cmd
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "runs", Short: "Manage inspection runs"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(c *cobra.Command, args []string) error {
			path := "/inspection-runs"
			if cluster, _ := c.Flags().GetString("cluster"); cluster != "" {
				path += "?cluster_id=" + queryEscape(cluster)
			}
			var out struct {
				Runs []struct {
					ID        string    `json:"id"`
					ClusterID string    `json:"cluster_id"`
					Status    string    `json:"status"`
					Executor  string    `json:"executor"`
					Progress  int       `json:"progress"`
					CreatedAt time.Time `json:"created_at"`
				} `json:"runs"`
			}
			if err := client.getJSON(c.Context(), path, &out); err != nil {
				return err
			}
			w := newTabWriter()
			fmt.Fprintln(w, "ID\tCLUSTER\tSTATUS\tEXECUTOR\tPROGRESS\tCREATED")
			for _, r := range out.Runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%s\n",
					r.ID, r.ClusterID, r.Status, r.Executor, r.Progress, r.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	list.Flags().String("cluster", "", "only runs for this cluster id")
	cmd.AddCommand(list)

	create := &cobra.Command{
		Use:   "create",
		Short: "Start a run",
		RunE: func(c *cobra.Command, args []string) error {
			cluster, _ := c.Flags().GetString("cluster")
			items, _ := c.Flags().GetString("items")
			operator, _ := c.Flags().GetString("operator")
			req := map[string]any{
				"cluster_id": cluster,
				"item_ids":   strings.Split(items, ","),
				"operator":   operator,
			}
			var out json.RawMessage
			if err := client.postJSON(c.Context(), "/inspection-runs", req, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	create.Flags().String("cluster", "", "cluster id (required)")
	create.Flags().String("items", "", "comma-separated item ids (required)")
	create.Flags().String("operator", "", "operator name recorded on the run")
	create.MarkFlagRequired("cluster")
	create.MarkFlagRequired("items")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show a run with its result rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := client.getJSON(c.Context(), "/inspection-runs/"+args[0], &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <id>",
		Short: "Cooperatively cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := client.do(c.Context(), "POST", "/inspection-runs/"+args[0]+"/cancel", nil, "", &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	})

	report := &cobra.Command{
		Use:   "report <id>",
		Short: "Download a run's report artefact",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			format, _ := c.Flags().GetString("format")
			dest, _ := c.Flags().GetString("output")
			if dest == "" {
				dest = args[0] + "." + format
			}
			path := "/inspection-runs/" + args[0] + "/report?format=" + queryEscape(format)
			if err := client.download(c.Context(), path, dest); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", dest)
			return nil
		},
	}
	report.Flags().String("format", "md", "report format: md or pdf")
	report.Flags().StringP("output", "o", "", "destination path (default <run-id>.<format>)")
	cmd.AddCommand(report)

	return cmd
}

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agents", Short: "Manage inspection agents"}

	register := &cobra.Command{
		Use:   "register",
		Short: "Register an agent and print its one-time token",
		RunE: func(c *cobra.Command, args []string) error {
			name, _ := c.Flags().GetString("name")
			cluster, _ := c.Flags().GetString("cluster")
			description, _ := c.Flags().GetString("description")
			promURL, _ := c.Flags().GetString("prometheus-url")
			var out struct {
				Agent struct {
					ID string `json:"id"`
				} `json:"agent"`
				Token string `json:"token"`
			}
			err := client.postJSON(c.Context(), "/agents", map[string]string{
				"name":           name,
				"cluster_id":     cluster,
				"description":    description,
				"prometheus_url": promURL,
			}, &out)
			if err != nil {
				return err
			}
			fmt.Printf("agent id: %s\n", out.Agent.ID)
			fmt.Printf("token:    %s\n", out.Token)
			fmt.Println("store the token now; it is not shown again")
			return nil
		},
	}
	register.Flags().String("name", "", "agent name (required)")
	register.Flags().String("cluster", "", "cluster this agent serves")
	register.Flags().String("description", "", "free-form description")
	register.Flags().String("prometheus-url", "", "Prometheus endpoint reachable from the agent")
	register.MarkFlagRequired("name")
	cmd.AddCommand(register)

	cmd.AddCommand(&cobra.Command{
		Use:   "rotate-token <id>",
		Short: "Issue a fresh token for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var out struct {
				Token string `json:"token"`
			}
			if err := client.do(c.Context(), "POST", "/agents/"+args[0]+"/rotate-token", nil, "", &out); err != nil {
				return err
			}
			fmt.Printf("token: %s\n", out.Token)
			fmt.Println("store the token now; it is not shown again")
			return nil
		},
	})

	return cmd
}

func licenseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "license", Short: "Manage the installed license"}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show license validity and granted features",
		RunE: func(c *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := client.getJSON(c.Context(), "/license/status", &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "upload <file>",
		Short: "Install a license blob from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var out json.RawMessage
			if err := client.postJSON(c.Context(), "/license/upload", map[string]string{
				"license": strings.TrimSpace(string(data)),
			}, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	})

	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Inspect the audit log"}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show the audit log tail",
		RunE: func(c *cobra.Command, args []string) error {
			limit, _ := c.Flags().GetInt("limit")
			path := fmt.Sprintf("/audit-logs?limit=%d", limit)
			var out struct {
				Entries []struct {
					Actor  string    `json:"actor"`
					Action string    `json:"action"`
					Target string    `json:"target"`
					Detail string    `json:"detail"`
					At     time.Time `json:"at"`
				} `json:"entries"`
			}
			if err := client.getJSON(c.Context(), path, &out); err != nil {
				return err
			}
			w := newTabWriter()
			fmt.Fprintln(w, "AT\tACTOR\tACTION\tTARGET\tDETAIL")
			for _, e := range out.Entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.At.Format(time.RFC3339), e.Actor, e.Action, e.Target, e.Detail)
			}
			return w.Flush()
		},
	}
	list.Flags().Int("limit", 50, "maximum entries to show")
	cmd.AddCommand(list)

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(c *cobra.Command, args []string) {
			fmt.Printf("inspectctl %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func printJSON(raw json.RawMessage) error {
	var buf strings.Builder
	if err := jsonIndent(&buf, raw); err != nil {
		return err
	}
	fmt.Println(buf.String())
	return nil
}

func jsonIndent(w *strings.Builder, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
