package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"techclinic/internal/apiclient"
	"techclinic/internal/export"
	"techclinic/internal/logging"
	"techclinic/internal/models"
	"techclinic/internal/repair"
)

var (
	loginUser     string
	loginPassword string

	jobsSearch string
	jobsFormat string
	jobsOutput string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the TechClinic API and print the bearer token",
	Long: `Signs in against the API and prints the token. Export it as TECHCLINIC_TOKEN
(or put it under api.token) for the jobs commands.

The password is read from --password, TECHCLINIC_PASSWORD or the first line
of stdin, in that order.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Repair job lookups",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List repair jobs, optionally filtered by customer or status",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the filtered repair job list as CSV or XLSX",
	Args:  cobra.NoArgs,
	RunE:  runJobsExport,
}

func init() {
	loginCmd.Flags().StringVarP(&loginUser, "username", "u", "", "API username")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "API password")
	_ = loginCmd.MarkFlagRequired("username")

	jobsCmd.PersistentFlags().StringVarP(&jobsSearch, "search", "s", "", "filter by customer label or status")
	jobsExportCmd.Flags().StringVarP(&jobsFormat, "format", "f", export.FormatCSV, "csv or xlsx")
	jobsExportCmd.Flags().StringVarP(&jobsOutput, "output", "o", "", "output file (default stdout)")
	jobsCmd.AddCommand(jobsListCmd, jobsExportCmd)
}

func apiClient() *apiclient.Client {
	return apiclient.New(cfg.API.BaseURL,
		apiclient.WithTimeout(cfg.API.Timeout.Duration),
		apiclient.WithLogger(logging.Component(logger, "api")),
	)
}

func runLogin(cmd *cobra.Command, args []string) error {
	password := loginPassword
	if password == "" {
		password = os.Getenv("TECHCLINIC_PASSWORD")
	}
	if password == "" {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return errors.New("password is required")
	}

	token, err := apiClient().Login(cmd.Context(), loginUser, password)
	if err != nil {
		return fmt.Errorf("login: %s", apiclient.Message(err, "Login failed"))
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// loadJobs builds a one-shot workspace and returns the filtered job list.
// Notices go to stderr.
func loadJobs(ctx context.Context, cmd *cobra.Command) ([]repair.JobView, bool, error) {
	if cfg.API.Token == "" {
		return nil, false, errors.New("no API token: run `techclinic login` and set TECHCLINIC_TOKEN")
	}
	stderr := cmd.ErrOrStderr()
	notices := repair.NotifierFunc(func(n models.Notice) {
		fmt.Fprintf(stderr, "%s: %s\n", n.Level, n.Message)
	})
	ws := repair.NewWorkspace(apiClient().WithToken(cfg.API.Token), repair.Options{
		SampleFallback: cfg.Workflow.SampleFallback,
	}, notices, logging.Component(logger, "repair"))

	if err := ws.RefreshCustomers(ctx); err != nil {
		return nil, false, err
	}
	if err := ws.RefreshJobs(ctx); err != nil {
		return nil, false, err
	}
	views, sample := ws.ListJobs(jobsSearch)
	return views, sample, nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	views, sample, err := loadJobs(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCUSTOMER\tSTATUS\tCREATED\tNOTES")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.CustomerLabel, v.Status, v.CreatedAt, oneLine(v.Notes, 40))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if sample {
		fmt.Fprintln(cmd.ErrOrStderr(), "(sample data)")
	}
	return nil
}

func runJobsExport(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(jobsFormat)
	if err != nil {
		return err
	}
	views, _, err := loadJobs(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jobsOutput != "" {
		f, err := os.Create(jobsOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := export.Write(out, format, "RepairJobs", export.JobHeaders, export.JobRows(views)); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if jobsOutput != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d jobs to %s\n", len(views), jobsOutput)
	}
	return nil
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
