package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/wardlow/casekeeper/casekeeper"
)

// defaultConfigYAML is written by `casekeeper init` as a starting config.
// Fields left blank must be filled in before `casekeeper run` will start.
const defaultConfigYAML = `database: data/casekeeper.sqlite3
bootstrap_script: data/build.sql
snapshot_path: data/support_snapshot.json
commit_interval: 1m
log_level: INFO
shutdown_timeout: 30s
discord:
  token: ""
  application_id: ""
  guild_id: ""
  stdout_channel_id: ""
  command_prefix: "+"
  custom_status: "DM a helper? No - open a case!"
  discordgo_log_level: WARN
support:
  available_category_id: ""
  occupied_category_id: ""
  unavailable_category_id: ""
  helper_role_id: ""
  staff_role_id: ""
  inactive_time: 1h
`

// defaultBootstrapSQL is written by `casekeeper init` as the starting
// bootstrap script. Every statement is idempotent, so the script is safe
// to run on each connect.
const defaultBootstrapSQL = `CREATE TABLE IF NOT EXISTS users (
    UserID text PRIMARY KEY,
    Experience integer NOT NULL DEFAULT 0,
    Level integer NOT NULL DEFAULT 0,
    LastXP text NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%S', 'now'))
);

CREATE TABLE IF NOT EXISTS cases (
    CaseID integer PRIMARY KEY AUTOINCREMENT,
    ChannelID text NOT NULL,
    MessageID text NOT NULL,
    UserID text NOT NULL,
    OpenedAt text NOT NULL,
    ClosedAt text
);

CREATE INDEX IF NOT EXISTS cases_channel ON cases (ChannelID);

CREATE TABLE IF NOT EXISTS errors (
    Ref text PRIMARY KEY,
    Command text NOT NULL,
    Traceback text NOT NULL,
    ErrorTime text NOT NULL
);
`

var initCmd = &cobra.Command{
	Use:   "init [flags]",
	Short: "Writes a default config file and bootstrap script",
	Run: func(cmd *cobra.Command, _ []string) {
		target := configFile
		if target == "" {
			target = "casekeeper.yaml"
		}
		if _, err := os.Stat(target); err == nil {
			log.Fatalf("config file already exists: %s", target)
		}
		if err := os.WriteFile(
			target, []byte(defaultConfigYAML), 0600,
		); err != nil {
			log.Fatalf("error writing config file: %s", err.Error())
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote config: %s\n", target)

		scriptPath := casekeeper.DefaultBootstrapScript
		if _, err := os.Stat(scriptPath); err == nil {
			_, _ = fmt.Fprintf(
				cmd.OutOrStdout(),
				"bootstrap script already exists: %s\n",
				scriptPath,
			)
			return
		}
		if err := os.MkdirAll(filepath.Dir(scriptPath), 0755); err != nil {
			log.Fatalf("error creating data directory: %s", err.Error())
		}
		if err := os.WriteFile(
			scriptPath, []byte(defaultBootstrapSQL), 0644,
		); err != nil {
			log.Fatalf("error writing bootstrap script: %s", err.Error())
		}
		_, _ = fmt.Fprintf(
			cmd.OutOrStdout(),
			"Initialization complete. Fill in the discord and support IDs, "+
				"then start the bot with the 'run' subcommand.\n",
		)
	},
}

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(initCmd)
}
