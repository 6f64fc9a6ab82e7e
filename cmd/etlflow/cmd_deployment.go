package main

import (
	"fmt"

	"github.com/dcshock/etlflow/deployment"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"
)

func newDeploymentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deployment",
		Short: "Run, validate and show deployment specs",
		Long: `A deployment spec names a flow, its parameters, tags and the runner
(subprocess or inprocess). Without a spec file the built-in
"my-first-deployment" is used.`,
	}
	cmd.AddCommand(newDeploymentRunCmd(a), newDeploymentValidateCmd(), newDeploymentShowCmd())
	return cmd
}

func loadSpec(args []string) (*deployment.Spec, error) {
	if len(args) == 0 {
		return deployment.DefaultSpec(), nil
	}
	return deployment.LoadSpec(args[0])
}

func newDeploymentRunCmd(a *app) *cobra.Command {
	var runner string
	cmd := &cobra.Command{
		Use:   "run [spec.yaml]",
		Short: "Run the flow of a deployment",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := loadSpec(args)
			if err != nil {
				return err
			}
			if runner != "" {
				spec.FlowRunner.Type = deployment.RunnerType(runner)
				if err := spec.Validate(); err != nil {
					return err
				}
			}
			catalog, err := a.catalog(cmd.OutOrStdout(), spec.FlowLocation)
			if err != nil {
				return err
			}
			runners := deployment.Runners{
				InProcess: &deployment.InProcessRunner{Catalog: catalog, Observer: a.observer(), Log: a.log},
				Subprocess: &deployment.SubprocessRunner{
					Args:   a.passthroughArgs(),
					Stdout: cmd.OutOrStdout(),
					Stderr: cmd.ErrOrStderr(),
				},
			}
			a.log.WithField("tags", spec.Tags).Infof("deployment %q: running %q with the %s runner", spec.Name, spec.FlowName, spec.FlowRunner.Type)
			out, err := runners.RunFlow(cmd.Context(), spec)
			if err != nil {
				return err
			}
			if spec.FlowRunner.Type == deployment.RunnerInProcess {
				fmt.Fprintln(cmd.OutOrStdout(), out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runner, "runner", "", "override the spec's flow runner (subprocess or inprocess)")
	return cmd
}

func newDeploymentValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <spec.yaml>...",
		Short: "Check deployment spec files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				spec, err := deployment.LoadSpec(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s, %s)\n", path, spec.Name,
					english.Plural(len(spec.Parameters), "parameter", "parameters"))
			}
			return nil
		},
	}
}

func newDeploymentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [spec.yaml]",
		Short: "Print a deployment spec as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := loadSpec(args)
			if err != nil {
				return err
			}
			data, err := spec.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
