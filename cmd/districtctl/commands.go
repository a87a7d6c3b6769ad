package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"district-insights/internal/adjustment"
	"district-insights/internal/dataset"
	"district-insights/internal/models"
	"district-insights/internal/services"
)

const cliSession = "districtctl"

func (c *cli) districtsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "districts",
		Short: "List selectable districts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := c.app.NewSession(cliSession)
			if err != nil {
				return err
			}
			names, err := c.app.Adjustments.DistrictNames(cmd.Context(), sess)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func (c *cli) exploreCmd() *cobra.Command {
	var (
		search  string
		sortBy  string
		page    int
		limit   int
		columns []string
	)

	cmd := &cobra.Command{
		Use:   "explore <district>",
		Short: "Search, sort and page through a district's rows",
		Example: `  districtctl explore "Alpha City" --sort math:desc,year --limit 20
  districtctl explore Alpha --search 2019 --columns year,math`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := dataset.ParseSortSpec(sortBy)
			if err != nil {
				return err
			}
			if page < 1 {
				return fmt.Errorf("page must be at least 1")
			}

			view, err := c.app.Explorer.Explore(cmd.Context(), args[0], services.TableQuery{
				Search:  search,
				Sort:    spec,
				Page:    page - 1,
				Limit:   limit,
				Columns: columns,
			})
			if err != nil && !errors.Is(err, dataset.ErrPageOutOfRange) && view.Empty {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
			} else if err != nil {
				return err
			}
			return printView(cmd.OutOrStdout(), view)
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Case-insensitive substring to match in any column")
	cmd.Flags().StringVar(&sortBy, "sort", "", "Sort keys, e.g. math:desc,year")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", dataset.DefaultPageSize, "Rows per page")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Visible columns (grade, year, math, rla)")
	return cmd
}

func (c *cli) adjustCmd() *cobra.Command {
	var (
		district []string
		grade    []string
		random   bool
	)

	cmd := &cobra.Command{
		Use:   "adjust <district>",
		Short: "Select a district, submit adjustments and print the prediction",
		Example: `  districtctl adjust Alpha --district 10,10,10,10,10,10,10,10,10,10 --grade 5,5
  districtctl adjust Alpha --random`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if random == (len(district) > 0 || len(grade) > 0) {
				return fmt.Errorf("pass either --random or --district and --grade")
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			svc := c.app.Adjustments

			sess, err := c.app.NewSession(cliSession)
			if err != nil {
				return err
			}

			sel, err := svc.SelectDistrict(ctx, sess, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Selected %s (%d rows)\n", sel.District, sel.Rows)

			if random {
				district, grade, err = svc.AutoFill(sess)
				if err != nil {
					return err
				}
			}

			sub, err := svc.SubmitValues(ctx, sess, district, grade)
			if failures := adjustment.Failures(err); len(failures) > 0 {
				for _, failure := range failures {
					for _, f := range failure.Fields {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", f.Field, f.Message)
					}
				}
				return err
			}
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FEATURE\tVALUE")
			for _, e := range sub.Payload {
				fmt.Fprintf(tw, "%s\t%s\n", e.Key, e.Value)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			prediction, err := svc.Prediction(ctx, sess)
			if err != nil {
				return err
			}
			printPrediction(out, prediction)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&district, "district", nil, "The ten district level values, comma separated")
	cmd.Flags().StringSliceVar(&grade, "grade", nil, "The two grade level values, comma separated")
	cmd.Flags().BoolVar(&random, "random", false, "Fill every value randomly in [-100, 100]")
	return cmd
}

func printView(w io.Writer, view dataset.View) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	labels := make([]string, len(view.Columns))
	for i, col := range view.Columns {
		labels[i] = strings.ToUpper(col.Label)
	}
	fmt.Fprintln(tw, strings.Join(labels, "\t"))

	if view.Empty {
		fmt.Fprintln(tw, view.Message)
	}
	for _, row := range view.Rows {
		cells := make([]string, len(view.Columns))
		for i, col := range view.Columns {
			cells[i] = row.Get(col.Key).String()
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	pageCount := view.PageCount
	if pageCount == 0 {
		pageCount = 1
	}
	_, err := fmt.Fprintf(w, "page %d of %d, %d rows\n", view.Page+1, pageCount, view.Total)
	return err
}

func printPrediction(w io.Writer, p *models.Prediction) {
	d := p.Display()
	fmt.Fprintf(w, "\nPredicted change\n")
	fmt.Fprintf(w, "  district:          %s\n", d.DistrictPercentIncrease)
	fmt.Fprintf(w, "  similar districts: %s\n", d.SimilarDistrictsPercentIncrease)
	fmt.Fprintf(w, "  state:             %s\n", d.StatePercentIncrease)
}
