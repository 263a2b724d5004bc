package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/thatsimonsguy/webtimer/db"
	"github.com/thatsimonsguy/webtimer/internal/config"
	"github.com/thatsimonsguy/webtimer/internal/distributor"
	"github.com/thatsimonsguy/webtimer/internal/env"
	"github.com/thatsimonsguy/webtimer/internal/hostid"
	"github.com/thatsimonsguy/webtimer/internal/logging"
	"github.com/thatsimonsguy/webtimer/internal/model"
	"github.com/thatsimonsguy/webtimer/internal/signing"
	"github.com/thatsimonsguy/webtimer/internal/transport"
	"github.com/thatsimonsguy/webtimer/system/startup"
)

const usage = `Usage of webtimerctl:
  sign-file <file>                                 Append a signature line to file
  verify-file <file>                               Check the signature line of file
  create-bundle <archive> <manifest-list>          Build a signed bundle
  extract-bundle <archive> <manifest-list> <dir>   Verify and unpack a signed bundle
  push <file>                                      Upload file to this host's remote namespace
  pull <dir>                                       Fetch pending bundles into dir
  access-key generate [password]                   Print a new access key
  access-key verify <key> [password]               Check an access key
  install-service                                  Write the controller systemd unit
  history                                          Print the relay and distribution journal

Flags:
`

type options struct {
	remote  string
	hostID  string
	limit   int
	dbPath  string
	binary  string
	unit    string
	user    string
	journal *db.Journal
}

func main() {
	set := pflag.NewFlagSet("webtimerctl", pflag.ContinueOnError)
	flags := config.AddFlags(set)
	opts := &options{}
	set.StringVar(&opts.remote, "remote", "", "Remote store location, overrides distribution.remote")
	set.StringVar(&opts.hostID, "host-id", "", "Host id, overrides host_id and the hardware address")
	set.IntVar(&opts.limit, "limit", 20, "Rows shown by history")
	set.StringVar(&opts.dbPath, "db", "", "Journal database, overrides history.db_path")
	set.StringVar(&opts.binary, "binary", "/usr/local/bin/webtimer", "Daemon binary for install-service")
	set.StringVar(&opts.unit, "unit", startup.DefaultUnitPath, "Unit file written by install-service")
	set.StringVar(&opts.user, "user", "root", "User the service runs as")
	help := set.Bool("help", false, "Show help")
	set.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		set.PrintDefaults()
	}

	if err := set.Parse(os.Args[1:]); err != nil {
		os.Exit(model.ExitError)
	}
	if *help || set.NArg() == 0 {
		set.Usage()
		os.Exit(model.ExitOK)
	}

	cfg, err := flags.Load(set)
	if err != nil {
		fmt.Printf("config: %s: %v\n", model.Outcome(err), err)
		os.Exit(model.ExitCode(err))
	}
	if !set.Changed("log-file") {
		// the CLI reports on stdout; logs go to stderr unless a file was asked for
		cfg.LogFile = ""
	}
	logFile, err := logging.Init(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Printf("logging: %v\n", err)
		os.Exit(model.ExitError)
	}
	defer logFile.Close()
	env.Cfg = cfg

	if opts.remote != "" {
		cfg.Distribution.Remote = opts.remote
	}
	if opts.hostID != "" {
		cfg.HostID = opts.hostID
	}
	if opts.dbPath != "" {
		cfg.History.DBPath = opts.dbPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := set.Arg(0)
	args := set.Args()[1:]
	if command == "access-key" && len(args) > 0 {
		command += " " + args[0]
		args = args[1:]
	}

	msg, err := run(ctx, cfg, opts, command, args)
	if opts.journal != nil {
		opts.journal.DB.Close()
	}
	line, code := report(command, msg, err)
	fmt.Println(line)
	if code != model.ExitOK {
		os.Exit(code)
	}
}

// report formats the result line of command and picks the exit code.
func report(command, msg string, err error) (string, int) {
	if err != nil {
		return fmt.Sprintf("%s: %s: %v", command, model.Outcome(err), err), model.ExitCode(err)
	}
	if msg == "" {
		msg = "ok"
	}
	return fmt.Sprintf("%s: %s", command, msg), model.ExitOK
}

func run(ctx context.Context, cfg *config.Config, opts *options, command string, args []string) (string, error) {
	switch command {
	case "sign-file":
		if err := want(args, 1, "<file>"); err != nil {
			return "", err
		}
		signer, err := signing.NewSigner(cfg.Secret, cfg.Distribution.Hash)
		if err != nil {
			return "", err
		}
		return "", signer.SignFile(args[0])

	case "verify-file":
		if err := want(args, 1, "<file>"); err != nil {
			return "", err
		}
		signer, err := signing.NewSigner(cfg.Secret, cfg.Distribution.Hash)
		if err != nil {
			return "", err
		}
		return "", signer.VerifyFile(args[0])

	case "create-bundle":
		if err := want(args, 2, "<archive> <manifest-list>"); err != nil {
			return "", err
		}
		d, err := offlineDistributor(cfg, opts)
		if err != nil {
			return "", err
		}
		manifest, err := signing.ReadManifest(args[1])
		if err != nil {
			return "", err
		}
		return "", d.CreateSignedBundle(args[0], manifest)

	case "extract-bundle":
		if err := want(args, 3, "<archive> <manifest-list> <dir>"); err != nil {
			return "", err
		}
		d, err := offlineDistributor(cfg, opts)
		if err != nil {
			return "", err
		}
		manifest, err := signing.ReadManifest(args[1])
		if err != nil {
			return "", err
		}
		return "", d.ExtractSignedBundle(args[0], manifest, args[2])

	case "push":
		if err := want(args, 1, "<file>"); err != nil {
			return "", err
		}
		d, err := remoteDistributor(cfg, opts)
		if err != nil {
			return "", err
		}
		return "", distributor.WithRetry(ctx, cfg.Distribution.RetryAttempts, cfg.Distribution.RetryBackoff, func() error {
			return d.PushArtifact(ctx, args[0])
		})

	case "pull":
		if err := want(args, 1, "<dir>"); err != nil {
			return "", err
		}
		d, err := remoteDistributor(cfg, opts)
		if err != nil {
			return "", err
		}
		var pulled []string
		err = distributor.WithRetry(ctx, cfg.Distribution.RetryAttempts, cfg.Distribution.RetryBackoff, func() error {
			var err error
			pulled, err = d.PullArtifacts(ctx, args[0])
			return err
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ok, %d file(s)", len(pulled)), nil

	case "access-key generate":
		password, err := accessPassword(cfg, args, 0)
		if err != nil {
			return "", err
		}
		return signing.GenerateAccessKey(password), nil

	case "access-key verify":
		if len(args) < 1 {
			return "", fmt.Errorf("%w: expected <key> [password]", model.ErrConfigInvalid)
		}
		password, err := accessPassword(cfg, args, 1)
		if err != nil {
			return "", err
		}
		if !signing.ValidAccessKey(args[0], password) {
			return "", fmt.Errorf("access key: %w", model.ErrInvalidSignature)
		}
		return "", nil

	case "install-service":
		return opts.unit, startup.InstallControllerService(startup.Service{
			UnitPath: opts.unit,
			Binary:   opts.binary,
			User:     opts.user,
		})

	case "history":
		return "", db.HistoryCLI(cfg.History.DBPath, opts.limit, os.Stdout)
	}
	return "", fmt.Errorf("%w: unknown command %q", model.ErrUnsupported, command)
}

func want(args []string, n int, names string) error {
	if len(args) != n {
		return fmt.Errorf("%w: expected %s", model.ErrConfigInvalid, names)
	}
	return nil
}

// accessPassword returns args[i] or, when absent, the device password of this host.
func accessPassword(cfg *config.Config, args []string, i int) (string, error) {
	if len(args) > i {
		return args[i], nil
	}
	if cfg.Secret == "" {
		return "", fmt.Errorf("%w: no password given and no secret configured", model.ErrConfigInvalid)
	}
	addr, err := hostid.HardwareAddr()
	if err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrIO, err)
	}
	return signing.DevicePassword(addr, cfg.Secret), nil
}

// openJournal attaches the history database when it can be opened. Distribution
// still works without it.
func openJournal(cfg *config.Config, opts *options) *db.Journal {
	if opts.journal != nil {
		return opts.journal
	}
	dbConn, err := db.Open(cfg.History.DBPath)
	if err != nil {
		return nil
	}
	opts.journal = &db.Journal{DB: dbConn}
	return opts.journal
}

func offlineDistributor(cfg *config.Config, opts *options) (*distributor.Distributor, error) {
	signer, err := signing.NewSigner(cfg.Secret, cfg.Distribution.Hash)
	if err != nil {
		return nil, err
	}
	// the id only names the local lock owner here
	id, err := hostid.Derive(cfg.HostID)
	if err != nil {
		id = "webtimerctl"
	}
	return distributor.New(nil, id, signer).WithRecorder(openJournal(cfg, opts)), nil
}

func remoteDistributor(cfg *config.Config, opts *options) (*distributor.Distributor, error) {
	if cfg.Distribution.Remote == "" {
		return nil, fmt.Errorf("%w: no remote store, set --remote or distribution.remote", model.ErrConfigInvalid)
	}
	id, err := hostid.Derive(cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrIO, err)
	}
	remote, err := transport.Open(cfg.Distribution.Remote, cfg.Distribution.Credential)
	if err != nil {
		return nil, err
	}
	signer, err := signing.NewSigner(cfg.Secret, cfg.Distribution.Hash)
	if err != nil {
		return nil, err
	}
	return distributor.New(remote, id, signer).WithRecorder(openJournal(cfg, opts)), nil
}
