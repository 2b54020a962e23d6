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

/*
Package main provides the CLI commands for managing database migrations.
*/

package main

import (
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ugamusic/distro"
	"github.com/ugamusic/distro/database"
)

const (
	migrationSchema = "distro"
	migrationTable  = "distro_migrations"
)

func migrationSource() migrate.MigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: distro.SQLFiles,
		Root:       "sql",
	}
}

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(d *distroInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run distro database migrations",
	}

	cmd.AddCommand(migrateDirectionCommand(d, "up", migrate.Up))
	cmd.AddCommand(migrateDirectionCommand(d, "down", migrate.Down))

	return cmd
}

func migrateDirectionCommand(d *distroInstance, use string, direction migrate.MigrationDirection) *cobra.Command {
	var max int
	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("apply migrations %s", use),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.ConnectDB(d.cnf.DataSource.Dns)
			if err != nil {
				return fmt.Errorf("error connecting to database: %v", err)
			}
			defer db.Close()

			migrate.SetSchema(migrationSchema)
			migrate.SetTable(migrationTable)

			n, err := migrate.ExecMax(db, "postgres", migrationSource(), direction, max)
			if err != nil {
				return fmt.Errorf("error migrating %s: %v", use, err)
			}
			logrus.Infof("Applied %d migrations %s", n, use)
			return nil
		},
	}
	cmd.Flags().IntVar(&max, "max", 0, "maximum number of migrations to apply, 0 for all")
	return cmd
}
