package main

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andreyvit/ersdb"
	"github.com/andreyvit/ersdb/config"
	"github.com/andreyvit/ersdb/logging"
)

// app carries the state shared by the subcommands of one invocation.
type app struct {
	v   *viper.Viper
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "ersctl",
		Short: "inspect and maintain ersdb databases",
		Long: fmt.Sprintf(`ersctl (v%s)

Reads settings from a TOML config file, then from ERS_* environment
variables (.env and .env.local are loaded first), then from flags.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default "+config.DefaultPath+")")
	flags.String("backend", "", "storage backend: mem, bolt or badger")
	flags.String("path", "", "database location")
	flags.Bool("checked", true, "check entity existence on every access")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("log-format", "", "text or json")

	root.AddCommand(
		a.dumpCmd(),
		a.loadCmd(),
		a.statsCmd(),
		a.symbolsCmd(),
		a.typesCmd(),
		a.metricsCmd(),
		a.configCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	a.v.SetEnvPrefix("ers")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg, err := config.Load(a.v.GetString("config"))
	if err != nil {
		return err
	}
	if s := a.v.GetString("backend"); s != "" {
		cfg.Storage.Backend = s
	}
	if s := a.v.GetString("path"); s != "" {
		cfg.Storage.Path = s
	}
	if a.v.IsSet("checked") {
		cfg.ERS.Checked = a.v.GetBool("checked")
	}
	if s := a.v.GetString("log-level"); s != "" {
		cfg.Log.Level = s
	}
	if s := a.v.GetString("log-format"); s != "" {
		cfg.Log.Format = s
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logging.InitTo(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// withDB opens the configured database for the duration of f.
func (a *app) withDB(f func(db *ersdb.DB) error) error {
	opt, err := ersdb.OptionsFromConfig(a.cfg)
	if err != nil {
		return err
	}
	opt.Logger = logging.For("ersdb")
	db, err := ersdb.Open(opt)
	if err != nil {
		return err
	}
	err = f(db)
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	return err
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ersctl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ersctl v%s\n", Version)
		},
	}
}
