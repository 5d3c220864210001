package cmd

import (
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	commonconfig "github.com/armadaproject/sjfscheduler/internal/common/config"
	schedulerconfig "github.com/armadaproject/sjfscheduler/internal/scheduler/configuration"
	"github.com/armadaproject/sjfscheduler/internal/scheduler/database"
)

const (
	CustomConfigLocation string = "config"
	defaultConfigPath    string = "./config/sjfscheduler"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "sjfscheduler",
		SilenceUsage: true,
		Short:        "Shortest-job-first scheduling agent",
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	bindFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		runCmd(),
		submitCmd(),
		holdCmd(),
		releaseCmd(),
		finishCmd(),
		getCmd(),
	)

	return cmd
}

func bindFlags(flags *pflag.FlagSet) {
	if err := viper.BindPFlags(flags); err != nil {
		log.WithError(err).Fatal("Failed to bind command line flags")
	}
}

func loadConfig() (schedulerconfig.Configuration, error) {
	var config schedulerconfig.Configuration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	if _, err := commonconfig.LoadConfig(&config, defaultConfigPath, userSpecifiedConfigs); err != nil {
		return config, err
	}

	err := config.Validate()
	if err != nil {
		commonconfig.LogValidationErrors(err)
	}
	return config, err
}

// withRepository calls action with a job repository for the configured redis instance.
func withRepository(action func(repository database.JobRepository) error) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	defer func() {
		if err := client.Close(); err != nil {
			log.WithError(errors.WithStack(err)).Warn("Redis client didn't close down cleanly")
		}
	}()
	return action(database.NewRedisJobRepository(client, config.Redis.KeyPrefix))
}
