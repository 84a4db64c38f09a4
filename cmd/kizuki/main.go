// Command kizuki ingests internship journals into the record store and keeps
// the dashboard snapshot and the annotation dataset in step with it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/yomogi-work/kizuki-log-sync/pkg/config"
	"github.com/yomogi-work/kizuki-log-sync/pkg/db"
	"github.com/yomogi-work/kizuki-log-sync/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "kizuki: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every command needs after flags and config are resolved.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	out   io.Writer
	runID string
}

func (a *app) openDB() (*sqlx.DB, error) {
	conn, err := db.Open(a.cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	a.log.Debug("database opened", "path", a.cfg.DB.Path)
	return conn, nil
}

type command struct {
	name  string
	usage string
	// flags defines the command's flags and binds them to config keys.
	flags func(fs *pflag.FlagSet, v *viper.Viper)
	run   func(ctx context.Context, a *app, fs *pflag.FlagSet) error
}

var errUsage = errors.New("usage")

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cmds := commands()
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage(stdout, cmds)
		if len(args) == 0 {
			return errUsage
		}
		return nil
	}

	name, rest := args[0], args[1:]
	if _, ok := cmds[name]; !ok && len(rest) > 0 {
		if _, ok := cmds[name+" "+rest[0]]; ok {
			name, rest = name+" "+rest[0], rest[1:]
		}
	}
	cmd, ok := cmds[name]
	if !ok {
		printUsage(stdout, cmds)
		return fmt.Errorf("unknown command %q", strings.Join(args[:1], " "))
	}

	v := config.New()
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", "", "config file (default ./kizuki.yaml if present)")
	fs.String("db", "", "SQLite database path")
	fs.String("log-level", "", "debug, info, warn or error")
	bind(fs, v, "db", "db.path")
	bind(fs, v, "log-level", "log.level")
	if cmd.flags != nil {
		cmd.flags(fs, v)
	}
	fs.Usage = func() {
		fmt.Fprintf(stdout, "usage: kizuki %s\n\n", cmd.usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(rest); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(v, *configPath)
	if err != nil {
		return err
	}
	base, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer base.Sync()

	runID := uuid.NewString()
	a := &app{
		cfg:   cfg,
		log:   base.With("run_id", runID, "command", name),
		out:   stdout,
		runID: runID,
	}
	if err := cmd.run(ctx, a, fs); err != nil {
		a.log.Error("command failed", "error", err)
		return err
	}
	return nil
}

// bind ties a flag to a config key: a flag given on the command line
// overrides the config file and the environment.
func bind(fs *pflag.FlagSet, v *viper.Viper, flag, key string) {
	if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind --%s to %s: %v", flag, key, err))
	}
}

func printUsage(w io.Writer, cmds map[string]*command) {
	names := make([]string, 0, len(cmds))
	for n := range cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "usage: kizuki <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, n := range names {
		fmt.Fprintf(w, "  %s\n", cmds[n].usage)
	}
}
