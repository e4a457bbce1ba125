package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/larcrm/internal/lead"
	"github.com/zulandar/larcrm/internal/pagination"
)

func newLeadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lead",
		Short: "Lead management commands",
	}

	cmd.AddCommand(newLeadListCmd())
	cmd.AddCommand(newLeadStatusCmd())
	return cmd
}

func newLeadListCmd() *cobra.Command {
	var (
		configPath string
		filters    lead.ListFilters
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leads, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filters.Status != "" && !lead.ValidStatus(filters.Status) {
				return fmt.Errorf("unknown status %q", filters.Status)
			}
			return runLeadList(cmd, configPath, filters)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Lar config file")
	cmd.Flags().StringVar(&filters.Status, "status", "", "filter by funnel status")
	cmd.Flags().StringVar(&filters.Search, "search", "", "filter by name or phone substring")
	cmd.Flags().IntVar(&filters.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&filters.PerPage, "per-page", pagination.DefaultPerPage, "leads per page")
	return cmd
}

func runLeadList(cmd *cobra.Command, configPath string, filters lead.ListFilters) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	res, err := lead.List(gormDB, filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(res.Data) == 0 {
		fmt.Fprintln(out, "No leads found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPHONE\tSTATUS\tBUDGET\tLOCATION\tLAST SEEN")
	for _, l := range res.Data {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.ID, truncate(leadName(l.Name, l.WhatsAppName), 30), l.Phone, l.Status,
			formatBudget(l.BudgetMin, l.BudgetMax), orDash(truncate(l.Location, 30)),
			formatWhen(l.LastInteraction))
	}
	w.Flush()
	fmt.Fprintf(out, "\nPage %d of %d (%d leads)\n", res.CurrentPage, res.LastPage, res.Total)
	return nil
}

func newLeadStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a lead to another funnel status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid lead id %q", args[0])
			}
			if !lead.ValidStatus(args[1]) {
				return fmt.Errorf("unknown status %q", args[1])
			}
			return runLeadStatus(cmd, configPath, uint(id), args[1])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Lar config file")
	return cmd
}

func runLeadStatus(cmd *cobra.Command, configPath string, id uint, status string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	l, err := lead.UpdateStatus(gormDB, id, status)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Lead %d (%s) is now %s\n", l.ID, leadName(l.Name, l.WhatsAppName), l.Status)
	return nil
}
