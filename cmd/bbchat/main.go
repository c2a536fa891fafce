package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/babelbye/bbchat/internal/account"
	"github.com/babelbye/bbchat/internal/app"
	"github.com/babelbye/bbchat/internal/config"
	"github.com/babelbye/bbchat/internal/lock"
	"github.com/spf13/afero"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	verboseFlag := flag.Bool("v", false, "also log to stderr")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	fsys := afero.NewOsFs()
	if args[0] == "init" {
		cmdInit(fsys)
		return
	}

	if err := config.LoadDotEnv(account.EnvFilePath(), ".env"); err != nil {
		fatal(err)
	}
	cfg, err := config.LoadOrDefault(fsys, account.ConfigPath())
	if err != nil {
		fatal(err)
	}
	cfg.ApplyEnv(os.LookupEnv)

	accountName := account.Resolve(*accountFlag, cfg)
	if err := account.ValidateName(accountName); err != nil {
		fatal(err)
	}

	switch args[0] {
	case "run":
		cmdRun(app.Params{Account: accountName, Config: cfg, Console: *verboseFlag})
	case "status":
		cmdStatus(accountName, *jsonFlag)
	case "accounts":
		cmdAccounts(*jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: bbchat [--account <name>] [--json] [-v] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  init        Write a default config file")
	fmt.Fprintln(os.Stderr, "  run         Connect and chat in the terminal")
	fmt.Fprintln(os.Stderr, "  status      Show the running client's health")
	fmt.Fprintln(os.Stderr, "  accounts    List known accounts")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdInit(fsys afero.Fs) {
	path := account.ConfigPath()
	if _, err := fsys.Stat(path); err == nil {
		fmt.Printf("Config already exists at %s\n", path)
		return
	}
	if err := config.Save(fsys, path, config.Default()); err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %s\n", path)
}

func cmdRun(p app.Params) {
	var client *app.Client
	fxApp := fx.New(
		app.Module(p),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Populate(&client),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			fatal(fmt.Errorf("account %q is already running (PID %d)", p.Account, held.PID))
		}
		fatal(err)
	}

	runREPL(client, os.Stdin, os.Stdout)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := fxApp.Stop(stopCtx); err != nil {
		fatal(err)
	}
}

type statusReport struct {
	Account   string          `json:"account"`
	PID       int             `json:"pid"`
	Process   json.RawMessage `json:"process"`
	Transport json.RawMessage `json:"transport"`
}

func newStatusReport(accountName string, pid int, proc, transport *healthpb.HealthCheckResponse) (statusReport, error) {
	procJSON, err := protojson.Marshal(proc)
	if err != nil {
		return statusReport{}, fmt.Errorf("encode process health: %w", err)
	}
	transportJSON, err := protojson.Marshal(transport)
	if err != nil {
		return statusReport{}, fmt.Errorf("encode transport health: %w", err)
	}
	return statusReport{
		Account:   accountName,
		PID:       pid,
		Process:   procJSON,
		Transport: transportJSON,
	}, nil
}

func cmdStatus(accountName string, jsonOut bool) {
	pid, err := lock.Holder(account.Dir(accountName))
	if err != nil {
		fatal(err)
	}
	if pid == 0 {
		fmt.Fprintf(os.Stderr, "account %q is not running\n", accountName)
		os.Exit(1)
	}

	hc, err := app.DialHealth(account.SocketPath(accountName))
	if err != nil {
		fatal(fmt.Errorf("cannot connect to client for account %q: %w", accountName, err))
	}
	defer func() { _ = hc.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	proc, err := hc.Check(ctx, "")
	if err != nil {
		fatal(err)
	}
	transport, err := hc.Check(ctx, app.HealthService)
	if err != nil {
		fatal(err)
	}

	if jsonOut {
		report, err := newStatusReport(accountName, pid, proc, transport)
		if err != nil {
			fatal(err)
		}
		outputJSON(report)
		return
	}
	fmt.Printf("Account:   %s\n", accountName)
	fmt.Printf("PID:       %d\n", pid)
	fmt.Printf("Process:   %s\n", proc.Status)
	fmt.Printf("Transport: %s\n", transport.Status)
}

type accountInfo struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
}

func cmdAccounts(jsonOut bool) {
	entries, err := os.ReadDir(filepath.Join(account.BaseDir(), "accounts"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		fatal(err)
	}
	var infos []accountInfo
	for _, e := range entries {
		if !e.IsDir() || account.ValidateName(e.Name()) != nil {
			continue
		}
		pid, _ := lock.Holder(account.Dir(e.Name()))
		infos = append(infos, accountInfo{
			Name:    e.Name(),
			Path:    account.Dir(e.Name()),
			Running: pid != 0,
			PID:     pid,
		})
	}
	if jsonOut {
		outputJSON(infos)
		return
	}
	if len(infos) == 0 {
		fmt.Println("No accounts found.")
		return
	}
	for _, a := range infos {
		running := "stopped"
		if a.Running {
			running = fmt.Sprintf("running, PID %d", a.PID)
		}
		fmt.Printf("%-20s %s (%s)\n", a.Name, a.Path, running)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
