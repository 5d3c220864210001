package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/armadaproject/sjfscheduler/internal/common/armadacontext"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/database"
)

func holdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hold <jobId>",
		Short: "Holds a pending job so that it isn't scheduled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateJobState(cmd, args[0], database.StateHeld)
		},
	}
}

func releaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <jobId>",
		Short: "Releases a held job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateJobState(cmd, args[0], database.StatePending)
		},
	}
}

func finishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finish <jobId>",
		Short: "Moves a job into a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := cmd.Flags().GetString("state")
			if err != nil {
				return errors.WithStack(err)
			}
			switch state {
			case database.StateCompleted, database.StateFailed, database.StateCancelled:
			default:
				return errors.Errorf("state must be one of %s, %s or %s, but got %s",
					database.StateCompleted, database.StateFailed, database.StateCancelled, state)
			}
			return updateJobState(cmd, args[0], state)
		},
	}
	cmd.Flags().String("state", database.StateCompleted, "Terminal state of the job: completed, failed or cancelled")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <jobId>",
		Short: "Prints the stored record of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(func(repository database.JobRepository) error {
				job, err := repository.GetJob(armadacontext.Background(), args[0])
				if err != nil {
					return err
				}
				if job == nil {
					return errors.Wrapf(database.ErrJobNotFound, "job %s", args[0])
				}
				data, err := json.MarshalIndent(job, "", "  ")
				if err != nil {
					return errors.WithStack(err)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	}
}

func updateJobState(cmd *cobra.Command, jobId string, state string) error {
	return withRepository(func(repository database.JobRepository) error {
		job, err := repository.UpdateJobState(armadacontext.Background(), jobId, state, time.Now())
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", job.Id, job.State)
		return nil
	})
}
