package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pipeline-engine/internal/model"
)

func NewCreateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a pipeline from a JSON definition file",
		RunE: func(c *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var p model.Pipeline
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("parse definition: %w", err)
			}
			if err := validator.New().Struct(&p); err != nil {
				return fmt.Errorf("invalid definition: %w", err)
			}

			p.ID = uuid.New().String()
			if err := e.store.CreatePipeline(&p); err != nil {
				return err
			}
			fmt.Printf("created pipeline %q (%s)\n", p.Name, p.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "pipeline.json", "Path to pipeline definition")
	return cmd
}

func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <name>",
		Short: "Execute a pipeline and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			p, err := e.store.GetPipelineByName(args[0])
			if err != nil {
				return err
			}
			rows, err := e.orch.RunPipeline(context.Background(), p.ID)
			if err != nil {
				return err
			}
			fmt.Printf("pipeline %q completed, %d rows processed\n", p.Name, rows)
			return nil
		},
	}
}

func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered pipelines",
		RunE: func(c *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			pipelines, err := e.store.ListPipelines()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSOURCE\tMODE\tRUNS\tOK\tFAILED\tLAST STATUS")
			for _, p := range pipelines {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					p.Name, p.Source.Kind, p.Source.Mode,
					p.TotalRuns, p.SuccessfulRuns, p.FailedRuns, p.LastRunStatus)
			}
			return w.Flush()
		},
	}
}

func NewRunsCmd() *cobra.Command {
	var (
		pipeline string
		status   string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List run history, newest first",
		RunE: func(c *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			runs, err := e.store.ListRuns(model.RunFilter{
				PipelineName: pipeline,
				Status:       model.RunStatus(status),
				Limit:        limit,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tPIPELINE\tSTATUS\tROWS\tSTARTED\tDURATION")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%.1fs\n",
					r.ID, r.PipelineName, r.Status, r.RowsProcessed,
					r.StartTime.Format("2006-01-02 15:04:05"), r.Duration)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&pipeline, "pipeline", "p", "", "Filter by pipeline name")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by run status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Max results")
	return cmd
}
