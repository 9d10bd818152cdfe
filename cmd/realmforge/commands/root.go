// Package commands implements the realmforge command line.
package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/CreditWorthy/realmforge"
	"github.com/CreditWorthy/realmforge/internal/cli/output"
	"github.com/CreditWorthy/realmforge/realmerr"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
)

// settings are the resolved values of the global and per-command flags.
// Precedence: flags, then REALMFORGE_* environment variables, then the
// --config file.
type settings struct {
	v       *viper.Viper
	log     *zap.Logger
	printer *output.Printer
}

func (s *settings) config(path string) (realmforge.Config, error) {
	cfg := realmforge.Config{
		Path:                 path,
		SchemaVersion:        s.v.GetUint32("schema-version"),
		ReadOnly:             s.v.GetBool("read-only"),
		OneWriter:            s.v.GetBool("one-writer"),
		DisableFormatUpgrade: s.v.GetBool("no-upgrade"),
		ReserveVA:            s.v.GetInt("reserve-va"),
		Logger:               s.log,
	}
	spec := s.v.GetString("fields")
	if spec == "" {
		return cfg, fmt.Errorf("no schema: pass --fields or set REALMFORGE_FIELDS")
	}
	fields, err := realmforge.ParseFields(spec)
	if err != nil {
		return cfg, err
	}
	cfg.Fields = fields
	return cfg, nil
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	s := &settings{}

	root := &cobra.Command{
		Use:   "realmforge",
		Short: "Create, inspect and copy realm files",
		Long: `realmforge manages memory-mapped realm files.

Open failures are reported with their realm error code and exit status 2.
Every flag can also be set with a REALMFORGE_ environment variable
(REALMFORGE_SCHEMA_VERSION for --schema-version) or in a --config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if s.log != nil {
				_ = s.log.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (yaml)")
	pf.StringP("output", "o", "table", "output format (table|json|yaml)")
	pf.BoolP("verbose", "v", false, "development logging")

	root.AddCommand(
		newCodesCmd(s),
		newCreateCmd(s),
		newInspectCmd(s),
		newCopyCmd(s),
		newVersionCmd(),
	)
	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

func (s *settings) load(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix("REALMFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	s.v = v

	format, err := output.ParseFormat(v.GetString("output"))
	if err != nil {
		return err
	}
	s.printer = output.NewPrinter(cmd.OutOrStdout(), format)

	if v.GetBool("verbose") {
		s.log, err = zap.NewDevelopment()
	} else {
		s.log, err = zap.NewProduction()
	}
	return err
}

// realmFlags adds the flags that describe how a realm is opened.
func realmFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("fields", "", `record schema, e.g. "id:uint64,name:string:32"`)
	f.Uint32("schema-version", 0, "schema version stored in the file")
	f.Bool("one-writer", false, "hold an exclusive lock while open")
	f.Int("reserve-va", 0, "address space reserved for growth in bytes (0 = 1 GiB)")
}

// ExitCode is the process status for an error returned by a command:
// 2 for a realm error, 1 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if _, ok := realmerr.CodeOf(err); ok {
		return 2
	}
	return 1
}
