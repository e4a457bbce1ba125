package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/larcrm/internal/models"
	"github.com/zulandar/larcrm/internal/notify"
	"github.com/zulandar/larcrm/internal/property"
)

func newPropertyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "property",
		Short: "Catalog inspection commands",
	}

	cmd.AddCommand(newPropertyShowCmd())
	return cmd
}

func newPropertyShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <code>",
		Short: "Show a synced property, including hidden and inactive ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPropertyShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Lar config file")
	return cmd
}

func runPropertyShow(cmd *cobra.Command, configPath, code string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	p, err := property.GetByCode(gormDB, code)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Code:\t%s\n", p.Code)
	fmt.Fprintf(w, "Type:\t%s\n", orDash(p.Type))
	fmt.Fprintf(w, "Bedrooms:\t%d (%d suites)\n", p.Bedrooms, p.Suites)
	fmt.Fprintf(w, "Sale price:\t%s\n", formatPrice(p.SalePrice))
	fmt.Fprintf(w, "Address:\t%s\n", orDash(propertyAddress(p)))
	fmt.Fprintf(w, "Coordinates:\t%s\n", formatCoordinates(p))
	fmt.Fprintf(w, "Published:\t%s\n", publishedLabel(p))
	fmt.Fprintf(w, "Images:\t%d\n", len(p.Images))
	fmt.Fprintf(w, "Detail synced:\t%s\n", formatWhen(p.DetailSyncedAt))
	return w.Flush()
}

func formatPrice(v *float64) string {
	if v == nil {
		return "-"
	}
	return notify.FormatBRL(*v)
}

func propertyAddress(p *models.Property) string {
	city := ""
	if p.City != nil {
		city = *p.City
	}
	out := ""
	for _, part := range []string{p.Street, p.Number, p.Neighborhood, city, p.State} {
		if part == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += part
	}
	return out
}

func formatCoordinates(p *models.Property) string {
	if p.Latitude == nil || p.Longitude == nil {
		return "-"
	}
	return fmt.Sprintf("%.5f, %.5f (%s)", *p.Latitude, *p.Longitude, orDash(p.GeocodeMethod))
}

func publishedLabel(p *models.Property) string {
	switch {
	case !p.Active:
		return "no (inactive)"
	case !p.Visible:
		return "no (hidden)"
	default:
		return "yes"
	}
}
