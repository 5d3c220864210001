package cmd

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/armadaproject/sjfscheduler/internal/common/armadacontext"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/database"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/schedulerobjects"
)

func submitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <name>",
		Short: "Submits a job",
		Args:  cobra.ExactArgs(1),
		RunE:  submitJob,
	}
	cmd.Flags().String("user", "", "User submitting the job")
	cmd.Flags().String("partition", "", "Partition to run the job in; the default partition if empty")
	cmd.Flags().StringToString("resources", map[string]string{}, "Resources requested by the job, e.g., cpu=2,memory=4Gi")
	cmd.Flags().Duration("timeLimit", 0, "Upper bound on the run time of the job; jobs without one are ordered by historical run time")
	cmd.Flags().StringSlice("dependsOn", []string{}, "Ids of jobs that must complete before this job may start")
	cmd.Flags().String("burstBuffer", "", "Burst buffer the job stages data into")
	cmd.Flags().Bool("hold", false, "Submit the job held")
	return cmd
}

func submitJob(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	user, err := flags.GetString("user")
	if err != nil {
		return errors.WithStack(err)
	}
	partition, err := flags.GetString("partition")
	if err != nil {
		return errors.WithStack(err)
	}
	resources, err := flags.GetStringToString("resources")
	if err != nil {
		return errors.WithStack(err)
	}
	timeLimit, err := flags.GetDuration("timeLimit")
	if err != nil {
		return errors.WithStack(err)
	}
	dependencies, err := flags.GetStringSlice("dependsOn")
	if err != nil {
		return errors.WithStack(err)
	}
	burstBuffer, err := flags.GetString("burstBuffer")
	if err != nil {
		return errors.WithStack(err)
	}
	hold, err := flags.GetBool("hold")
	if err != nil {
		return errors.WithStack(err)
	}

	if timeLimit < 0 {
		return errors.Errorf("time limit must not be negative, but got %s", timeLimit)
	}
	rl, err := schedulerobjects.ResourceListFromStrings(resources)
	if err != nil {
		return err
	}
	if !rl.IsStrictlyNonNegative() {
		return errors.Errorf("resource requests must not be negative, but got %s", rl.CompactString())
	}
	state := database.StatePending
	if hold {
		state = database.StateHeld
	}
	job := &database.Job{
		Name:         args[0],
		User:         user,
		Partition:    partition,
		Submitted:    time.Now(),
		Resources:    resources,
		TimeLimit:    timeLimit,
		Dependencies: dependencies,
		BurstBuffer:  burstBuffer,
		State:        state,
	}
	return withRepository(func(repository database.JobRepository) error {
		submitted, err := repository.SubmitJob(armadacontext.Background(), job)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), submitted.Id)
		return nil
	})
}
