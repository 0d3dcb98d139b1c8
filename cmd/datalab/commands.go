package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rpattn/datalab/internal/assembler"
	"github.com/rpattn/datalab/internal/config"
	"github.com/rpattn/datalab/internal/datalab"
	"github.com/rpattn/datalab/internal/domain"
	"github.com/rpattn/datalab/internal/formula"
	"github.com/rpattn/datalab/internal/pipelinefile"
	"github.com/rpattn/datalab/internal/query"
	"github.com/rpattn/datalab/internal/repository"
	"github.com/rpattn/datalab/internal/sourceloader"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	workspace     string
	logLevel      string
	workers       int
	failurePolicy string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "datalab",
		Short:         "Assemble and query datalabs from a workspace file",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.workspace, "workspace", "w", "workspace.yaml", "Path to the workspace YAML file")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level written to stderr (debug, info, warn, error)")
	flags.IntVar(&opts.workers, "workers", 4, "Rows evaluated concurrently per computed field")
	flags.StringVar(&opts.failurePolicy, "failure-policy", string(assembler.FailureNull), "Formula failure policy (null, abort)")

	rootCmd.AddCommand(newQueryCmd(opts))
	rootCmd.AddCommand(newColumnsCmd(opts))
	rootCmd.AddCommand(newDataCmd(opts))
	rootCmd.AddCommand(newValidateCmd(opts))
	return rootCmd
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var (
		datalabID string
		request   string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a query request against a datalab",
		Long:  "Reads a query request as JSON from --request (or stdin when it is \"-\") and prints the query result.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := readQuerySpec(cmd.InOrStdin(), request)
			if err != nil {
				return err
			}
			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			result, err := env.service.Query(env.ctx, datalabID, spec)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVarP(&datalabID, "datalab", "d", "", "Datalab id")
	cmd.Flags().StringVarP(&request, "request", "r", "-", "Query request file, or - for stdin")
	_ = cmd.MarkFlagRequired("datalab")
	return cmd
}

func newColumnsCmd(opts *rootOptions) *cobra.Command {
	var datalabID string

	cmd := &cobra.Command{
		Use:   "columns",
		Short: "Print the resolved column catalog of a datalab",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			columns, err := env.service.Columns(env.ctx, datalabID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), columns)
		},
	}

	cmd.Flags().StringVarP(&datalabID, "datalab", "d", "", "Datalab id")
	_ = cmd.MarkFlagRequired("datalab")
	return cmd
}

func newDataCmd(opts *rootOptions) *cobra.Command {
	var datalabID string

	cmd := &cobra.Command{
		Use:   "data",
		Short: "Print the assembled relation of a datalab",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			result, err := env.service.Data(env.ctx, datalabID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result.Relation)
		},
	}

	cmd.Flags().StringVarP(&datalabID, "datalab", "d", "", "Datalab id")
	_ = cmd.MarkFlagRequired("datalab")
	return cmd
}

type datalabProblem struct {
	Datalab string `json:"datalab"`
	Error   string `json:"error"`
}

type validationReport struct {
	Valid    bool             `json:"valid"`
	Datalabs int              `json:"datalabs"`
	Problems []datalabProblem `json:"problems"`
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that every datalab in the workspace resolves and assembles",
		Long:  "Loads the workspace (validating form data), then resolves the column catalog and assembles every datalab. Prints a JSON report and fails when any datalab has a problem.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			labs, err := env.repos.Datalabs.List(env.ctx)
			if err != nil {
				return err
			}

			report := validationReport{Valid: true, Datalabs: len(labs), Problems: []datalabProblem{}}
			for _, lab := range labs {
				if _, err := env.service.Columns(env.ctx, lab.ID); err != nil {
					report.Problems = append(report.Problems, datalabProblem{Datalab: lab.ID, Error: err.Error()})
					continue
				}
				if _, err := env.service.Data(env.ctx, lab.ID); err != nil {
					report.Problems = append(report.Problems, datalabProblem{Datalab: lab.ID, Error: err.Error()})
				}
			}
			report.Valid = len(report.Problems) == 0

			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Valid {
				return fmt.Errorf("%d of %d datalabs failed validation", len(report.Problems), len(labs))
			}
			return nil
		},
	}
}

// environment is a loaded workspace and the service answering over it.
type environment struct {
	ctx     context.Context
	service *datalab.Service
	repos   repository.Repositories
}

// open loads the workspace and builds a service. The returned context carries
// a source loader for the command's lifetime.
func (o *rootOptions) open(cmd *cobra.Command) (environment, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := config.NewLogger(config.LogConfig{Level: o.logLevel}, cmd.ErrOrStderr())

	policy := assembler.FailurePolicy(o.failurePolicy)
	if policy != assembler.FailureNull && policy != assembler.FailureAbort {
		return environment{}, fmt.Errorf("unknown failure policy %q", o.failurePolicy)
	}

	repos, err := pipelinefile.Open(ctx, o.workspace)
	if err != nil {
		return environment{}, err
	}

	service := datalab.NewService(
		repository.NewProvider(repos),
		formula.NewEvaluator(),
		query.NewEngine(query.WithLogger(logger)),
		datalab.WithLogger(logger),
		datalab.WithAssemblerOptions(
			assembler.WithLogger(logger),
			assembler.WithWorkers(o.workers),
			assembler.WithFormulaFailurePolicy(policy),
		),
	)
	return environment{
		ctx:     sourceloader.WithLoader(ctx, sourceloader.New(repos)),
		service: service,
		repos:   repos,
	}, nil
}

func readQuerySpec(stdin io.Reader, path string) (domain.QuerySpec, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" || path == "" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path) //nolint:gosec // request path is user supplied
	}
	if err != nil {
		return domain.QuerySpec{}, fmt.Errorf("read query request: %w", err)
	}

	var spec domain.QuerySpec
	if len(data) == 0 {
		return spec, nil
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return spec, fmt.Errorf("query request is not valid JSON at offset %d: %w", syntaxErr.Offset, err)
		}
		return spec, fmt.Errorf("decode query request: %w", err)
	}
	return spec, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
