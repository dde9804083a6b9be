package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tfgate/internal/app"
	"tfgate/internal/config"
	"tfgate/internal/core"
	"tfgate/internal/ledger"
	"tfgate/internal/report"
	"tfgate/internal/security"
	"tfgate/internal/storage"
	"tfgate/internal/store"
)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: tfgate <command> [flags]

Commands:
  run      classify a trigger and execute its stages
  stages   print the stages a trigger would run
  submit   send a trigger to a tfgate server
  history  list recorded runs
  inspect  print the audit ledger
  verify   verify the audit ledger chain and signatures
  tamper   corrupt a ledger record (verification drill)
  prune    delete artifacts past their retention window
  keygen   generate ledger signing keys`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "run":
		err = runCmd(args)
	case "stages":
		err = stagesCmd(args)
	case "submit":
		err = submitCmd(args)
	case "history":
		err = historyCmd(args)
	case "inspect":
		err = inspectCmd(args)
	case "verify":
		err = verifyCmd(args)
	case "tamper":
		err = tamperCmd(args)
	case "prune":
		err = pruneCmd(args)
	case "keygen":
		err = keygenCmd(args)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintln(os.Stderr, "Unknown command:", cmd)
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// triggerFlags registers the flags describing a trigger event.
func triggerFlags(fs *flag.FlagSet) func() core.Trigger {
	kind := fs.String("trigger", "manual", "trigger kind: push, review or manual")
	branch := fs.String("branch", "", "pushed branch, or target branch of a review")
	action := fs.String("action", "", "manual action: validate, plan, apply or destroy")
	approve := fs.String("approve", "", "comma separated protected environments approved for apply/destroy")
	return func() core.Trigger {
		t := core.Trigger{
			Kind:   core.TriggerKind(*kind),
			Branch: *branch,
			Action: core.Action(*action),
		}
		for _, env := range strings.Split(*approve, ",") {
			if env = strings.TrimSpace(env); env != "" {
				t.Approvals = append(t.Approvals, env)
			}
		}
		return t
	}
}

func loadConfig(fs *flag.FlagSet, args []string) (config.Config, error) {
	path := fs.String("config", "", "config file (default "+config.DefaultFile+" if present)")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	return config.Load(*path)
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	trigger := triggerFlags(fs)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	logger := cfg.Logger(os.Stderr)

	a, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := a.Runner.RunPipeline(ctx, trigger())
	fmt.Println(report.Run(run.Snapshot()))
	return err
}

func stagesCmd(args []string) error {
	fs := flag.NewFlagSet("stages", flag.ExitOnError)
	trigger := triggerFlags(fs)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	pipeline, err := core.LoadPipeline(cfg.Pipeline)
	if err != nil {
		return err
	}

	stages, err := core.NewClassifier(pipeline).Classify(trigger())
	if err != nil {
		return err
	}
	for i, stage := range stages {
		mode := "parallel"
		if stage.Sequential() {
			mode = "sequential"
		}
		fmt.Printf("%d. %-8s %-10s %s\n", i+1, stage, mode, envNames(pipeline.Environments))
	}
	return nil
}

func submitCmd(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	trigger := triggerFlags(fs)
	server := fs.String("server", "http://localhost:8080", "tfgate server URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	body, err := json.Marshal(trigger())
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(strings.TrimRight(*server, "/")+"/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send trigger: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var view core.RunView
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusBadRequest {
		if json.Unmarshal(data, &view) == nil && view.ID != "" {
			fmt.Println(report.Run(view))
			if resp.StatusCode != http.StatusAccepted {
				return errors.New(view.Error)
			}
			return nil
		}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	fmt.Println(string(data))
	return nil
}

func historyCmd(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "number of runs to show")
	id := fs.String("run", "", "show a single run in detail")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := &store.RunRepo{DB: db}

	ctx := context.Background()
	if *id != "" {
		view, err := repo.GetRun(ctx, *id)
		if err != nil {
			return err
		}
		fmt.Println(report.Run(view))
		return nil
	}
	runs, err := repo.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Println(report.History(runs))
	return nil
}

func openLedger(args []string, name string) (*ledger.Ledger, []string, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return nil, nil, err
	}
	pub, err := security.LoadPublicKey(filepath.Join(cfg.KeyDir, security.PublicKeyFile))
	if err != nil {
		return nil, nil, fmt.Errorf("load trusted ledger key: %w", err)
	}
	l, err := ledger.OpenVerifier(cfg.LedgerPath, pub)
	return l, fs.Args(), err
}

func inspectCmd(args []string) error {
	l, _, err := openLedger(args, "inspect")
	if err != nil {
		return err
	}
	for _, r := range l.Records() {
		fmt.Printf("Index=%d Run=%s Stage=%s Env=%s Status=%s Hash=%s\n",
			r.Index, r.RunID, r.Stage, r.Environment, r.Status, shortHash(r.Hash))
	}
	return nil
}

func verifyCmd(args []string) error {
	l, _, err := openLedger(args, "verify")
	if err != nil {
		return err
	}
	if err := l.VerifyChain(); err != nil {
		return fmt.Errorf("ledger verification FAILED: %w", err)
	}
	fmt.Printf("Ledger verification OK (%d records)\n", len(l.Records()))
	return nil
}

func tamperCmd(args []string) error {
	l, rest, err := openLedger(args, "tamper")
	if err != nil {
		return err
	}
	if len(rest) < 1 {
		return errors.New("usage: tfgate tamper [-config file] <recordIndex>")
	}
	var idx int
	if _, err := fmt.Sscanf(rest[0], "%d", &idx); err != nil {
		return fmt.Errorf("invalid record index %q", rest[0])
	}
	records := l.Records()
	if idx < 0 || idx >= len(records) {
		return fmt.Errorf("invalid record index %d", idx)
	}

	records[idx].Status = string(core.TaskSucceeded)
	records[idx].ArtifactHash = "FAKE_HASH_TAMPERED"
	if err := l.Rewrite(records); err != nil {
		return err
	}
	fmt.Printf("Tampered record %d (ArtifactHash set to FAKE_HASH_TAMPERED)\n", idx)
	return nil
}

func pruneCmd(args []string) error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	removed, err := storage.NewArtifactStore(cfg.ArtifactDir).Prune()
	for _, dir := range removed {
		fmt.Println("removed", dir)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%d expired artifact directories removed\n", len(removed))
	return nil
}

func keygenCmd(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	dir := fs.String("dir", "", "key directory (default from config)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *dir == "" {
		*dir = cfg.KeyDir
	}
	pub, _, created, err := security.EnsureKeyPair(*dir)
	if err != nil {
		return err
	}
	if created {
		fmt.Println("Generated new ledger keys in", *dir)
	} else {
		fmt.Println("Keys already present in", *dir)
	}
	fmt.Printf("public key: %x\n", []byte(pub))
	return nil
}

func envNames(envs []core.Environment) string {
	names := make([]string, len(envs))
	for i, env := range envs {
		names[i] = env.Name
	}
	return strings.Join(names, ",")
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
