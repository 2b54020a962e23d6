/*
Copyright 2024 Distro Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ugamusic/distro"
	"github.com/ugamusic/distro/config"
	"github.com/ugamusic/distro/database"
	"github.com/ugamusic/distro/internal/notification"
	"github.com/ugamusic/distro/platform"
	"github.com/ugamusic/distro/platform/adapters"
)

// Distro represents the CLI application, encapsulating the root Cobra command.
type Distro struct {
	cmd *cobra.Command
}

// distroInstance holds the service and the configuration it was built from.
// Commands that do not need the service (migrate, config) leave distro nil.
type distroInstance struct {
	distro *distro.Distro
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration before any command runs and builds the
// service for the commands that serve traffic.
func preRun(app *distroInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			log.Fatal("error loading config ", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		if cmd.Annotations["service"] != "true" {
			return nil
		}

		d, err := setupDistro(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}
		app.distro = d
		return nil
	}
}

// setupRegistry loads the platform adapters. The in-memory adapters are used
// when configured, or when no adapters file is given.
func setupRegistry(cfg *config.Configuration) (*platform.Registry, error) {
	if cfg.Platforms.UseMock || cfg.Platforms.AdaptersFile == "" {
		logrus.Warn("using in-memory platform adapters")
		return adapters.NewMockRegistry(), nil
	}

	registry := platform.NewRegistry()
	if err := registry.LoadAdapters(cfg.Platforms.AdaptersFile); err != nil {
		return nil, fmt.Errorf("error loading platform adapters: %v", err)
	}
	return registry, nil
}

func setupDistro(cfg *config.Configuration) (*distro.Distro, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	registry, err := setupRegistry(cfg)
	if err != nil {
		return nil, err
	}

	d, err := distro.NewDistro(db, cfg, registry)
	if err != nil {
		return nil, fmt.Errorf("error creating distro: %v", err)
	}
	return d, nil
}

// serviceCommand marks cmd as one that needs the full service in preRun.
func serviceCommand(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations["service"] = "true"
	return cmd
}

// NewCLI creates the command-line interface with the start, workers, migrate
// and config subcommands.
func NewCLI() *Distro {
	var configFile string
	d := &distroInstance{}

	var rootCmd = &cobra.Command{
		Use:   "distro",
		Short: "Distribution status engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./distro.json", "Configuration file for distro")
	rootCmd.PersistentPreRunE = preRun(d, &configFile)

	rootCmd.AddCommand(serviceCommand(serverCommands(d)))
	rootCmd.AddCommand(serviceCommand(workerCommands(d)))
	rootCmd.AddCommand(migrateCommands(d))
	rootCmd.AddCommand(configCommands())

	return &Distro{cmd: rootCmd}
}

func (w Distro) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
