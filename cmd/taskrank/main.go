package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fernwick/taskrank/internal/config"
	"github.com/fernwick/taskrank/internal/ingest"
	"github.com/fernwick/taskrank/internal/llm"
	"github.com/fernwick/taskrank/internal/mcp"
	"github.com/fernwick/taskrank/internal/rank"
	"github.com/fernwick/taskrank/internal/resolve"
	"github.com/fernwick/taskrank/internal/store"
)

const version = "0.3.0"

func main() {
	setupLogging()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "index":
		err = runIndex(os.Args[2:])
	case "query":
		err = runQuery(os.Args[2:])
	case "watch":
		err = runWatch(os.Args[2:])
	case "serve-mcp":
		err = runServeMCP(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("taskrank %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging() {
	level := zerolog.WarnLevel
	if v := os.Getenv("TASKRANK_LOG"); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

// commonFlags are the flags shared by every subcommand that opens the
// store. Remaining positional arguments are returned in order.
type commonFlags struct {
	configPath string
	db         string
	root       string
	llmFlag    string
	mode       string
}

func splitFlags(args []string, extra func(flag, value string) (bool, error)) (commonFlags, []string, error) {
	var cf commonFlags
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			rest = append(rest, arg)
			continue
		}
		name := strings.TrimLeft(arg, "-")
		value := ""
		if eq := strings.Index(name, "="); eq >= 0 {
			name, value = name[:eq], name[eq+1:]
		} else if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && wantsValue(name) {
			value = args[i+1]
			i++
		}
		switch name {
		case "config":
			cf.configPath = value
		case "db":
			cf.db = value
		case "root":
			cf.root = value
		case "llm":
			cf.llmFlag = value
		case "mode":
			cf.mode = value
		default:
			if extra != nil {
				if ok, err := extra(name, value); err != nil {
					return cf, rest, err
				} else if ok {
					continue
				}
			}
			return cf, rest, fmt.Errorf("unknown flag: --%s", name)
		}
	}
	return cf, rest, nil
}

func wantsValue(name string) bool {
	switch name {
	case "json":
		return false
	}
	return true
}

func loadSnapshot(cf commonFlags) (*config.Snapshot, error) {
	return config.Resolve(config.ResolveOptions{
		ConfigPath: cf.configPath,
		CLIDBPath:  cf.db,
		CLIRoot:    cf.root,
		CLILLM:     cf.llmFlag,
		CLIMode:    cf.mode,
	})
}

func openStore(snap *config.Snapshot) (store.Store, error) {
	return store.NewStore(store.Config{DBPath: snap.DBPath.Value})
}

func buildProvider(snap *config.Snapshot) llm.Provider {
	model := snap.LLMModel.Value
	if model == "" {
		return nil
	}
	cfg, err := llm.ParseModelFlag(model)
	if err != nil {
		log.Warn().Err(err).Msg("invalid llm model, assisted modes disabled")
		return nil
	}
	cfg.APIKey = snap.APIKeyForProvider(model).Value
	p, err := llm.NewProvider(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("llm provider unavailable, assisted modes disabled")
		return nil
	}
	return p
}

func resolveOptions(snap *config.Snapshot) (resolve.Options, error) {
	mode, err := resolve.ParseMode(snap.QueryMode.Value)
	if err != nil {
		return resolve.Options{}, err
	}
	q := snap.Query
	return resolve.Options{
		Mode:                      mode,
		Limit:                     q.Limit,
		Weights:                   snap.Weights(),
		BaseThreshold:             q.BaseThreshold,
		DirectCap:                 q.DirectCap,
		Criteria:                  snap.SortCriteria(),
		Languages:                 q.Languages,
		MaxPerLanguage:            q.MaxPerLanguage,
		VaguenessThreshold:        q.VaguenessThreshold,
		ExcludeCompletedWhenVague: q.ExcludeCompletedWhenVague,
	}, nil
}

func runIndex(args []string) error {
	cf, rest, err := splitFlags(args, nil)
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(cf)
	if err != nil {
		return err
	}
	root := snap.CorpusRoot.Value
	if len(rest) > 0 {
		root = rest[0]
	}
	if root == "" {
		return fmt.Errorf("usage: taskrank index <root> (or set corpus_root in %s)", snap.ConfigPath)
	}

	s, err := openStore(snap)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := ingest.ImportDir(context.Background(), s, root, snap.Vocabulary)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d task(s) from %d file(s) in %s\n", result.Tasks, result.Files, result.Elapsed.Round(time.Millisecond))
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "  warning: %v\n", e)
	}
	return nil
}

func runQuery(args []string) error {
	asJSON := false
	limit := 0
	sortArg := ""
	cf, rest, err := splitFlags(args, func(flag, value string) (bool, error) {
		switch flag {
		case "json":
			asJSON = true
			return true, nil
		case "limit":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return false, fmt.Errorf("--limit wants a positive number, got %q", value)
			}
			limit = n
			return true, nil
		case "sort":
			sortArg = value
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return fmt.Errorf("usage: taskrank query <text> [--mode plain|assisted-match|assisted-analysis] [--limit n] [--sort due,priority] [--json]")
	}
	queryText := strings.Join(rest, " ")

	snap, err := loadSnapshot(cf)
	if err != nil {
		return err
	}
	opts, err := resolveOptions(snap)
	if err != nil {
		return err
	}
	if limit > 0 {
		opts.Limit = limit
	}
	if sortArg != "" {
		chain, err := rank.ParseCriteria(strings.Split(sortArg, ","))
		if err != nil {
			return err
		}
		opts.Criteria = chain
	}

	s, err := openStore(snap)
	if err != nil {
		return err
	}
	defer s.Close()

	engine := resolve.NewEngine(s, buildProvider(snap), snap.Vocabulary)
	result, err := engine.Resolve(context.Background(), queryText, opts)
	if err != nil {
		return err
	}

	if asJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	printResult(result)
	return nil
}

func printResult(result *resolve.Result) {
	for _, se := range result.Errors {
		fmt.Fprintf(os.Stderr, "warning: %s", se.Error())
		if se.Hint != "" {
			fmt.Fprintf(os.Stderr, " (%s)", se.Hint)
		}
		fmt.Fprintln(os.Stderr)
	}

	if len(result.Tasks) == 0 {
		fmt.Println("No matching tasks.")
		return
	}

	for i, st := range result.Tasks {
		t := st.Task
		line := fmt.Sprintf("%2d. [%s] %s", i+1, t.Symbol, t.Text)
		var attrs []string
		if t.Priority > 0 {
			attrs = append(attrs, fmt.Sprintf("p%d", t.Priority))
		}
		if t.Due != nil {
			attrs = append(attrs, "due "+t.Due.Format("2006-01-02"))
		}
		attrs = append(attrs, fmt.Sprintf("score %.0f", st.Scores.Final))
		fmt.Printf("%s  (%s)\n", line, strings.Join(attrs, ", "))
		fmt.Printf("      %s\n", t.Location())
	}

	if result.Analysis != "" {
		fmt.Printf("\n%s\n", result.Analysis)
	}
	if result.Usage.TotalTokens > 0 {
		est := ""
		if result.Usage.Estimated {
			est = " (estimated)"
		}
		fmt.Printf("\n%d tokens%s, %s\n", result.Usage.TotalTokens, est, result.Elapsed.Round(time.Millisecond))
	}
}

func runWatch(args []string) error {
	cf, rest, err := splitFlags(args, nil)
	if err != nil {
		return err
	}
	mgr, err := config.NewManager(config.ResolveOptions{
		ConfigPath: cf.configPath,
		CLIDBPath:  cf.db,
		CLIRoot:    cf.root,
		CLILLM:     cf.llmFlag,
		CLIMode:    cf.mode,
	})
	if err != nil {
		return err
	}
	snap := mgr.Current()
	root := snap.CorpusRoot.Value
	if len(rest) > 0 {
		root = rest[0]
	}
	if root == "" {
		return fmt.Errorf("usage: taskrank watch <root> (or set corpus_root in %s)", snap.ConfigPath)
	}

	s, err := openStore(snap)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := ingest.ImportDir(ctx, s, root, snap.Vocabulary)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d task(s) from %d file(s); watching %s\n", result.Tasks, result.Files, root)

	w, err := ingest.NewWatcher(s, root, snap.Vocabulary)
	if err != nil {
		return err
	}
	w.Start(ctx)
	defer w.Stop()

	if err := mgr.Watch(ctx); err != nil {
		log.Warn().Err(err).Msg("config hot reload unavailable")
	}
	defer mgr.Close()

	<-ctx.Done()
	fmt.Println("shutting down")
	return nil
}

func runServeMCP(args []string) error {
	cf, _, err := splitFlags(args, nil)
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(cf)
	if err != nil {
		return err
	}
	opts, err := resolveOptions(snap)
	if err != nil {
		return err
	}

	s, err := openStore(snap)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := mcp.NewServer(mcp.ServerConfig{
		Store:      s,
		Engine:     resolve.NewEngine(s, buildProvider(snap), snap.Vocabulary),
		Vocabulary: snap.Vocabulary,
		CorpusRoot: snap.CorpusRoot.Value,
		Options:    opts,
		Version:    version,
	})
	return server.ServeStdio(srv)
}

func runStats(args []string) error {
	cf, _, err := splitFlags(args, nil)
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(cf)
	if err != nil {
		return err
	}
	s, err := openStore(snap)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.Stats(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Tasks:          %d\n", stats.TaskCount)
	fmt.Printf("Source files:   %d\n", stats.SourceCount)
	fmt.Printf("Corpus version: %d\n", stats.CorpusVersion)
	fmt.Printf("Database size:  %d bytes\n", stats.DBSizeBytes)
	return nil
}

func runConfig(args []string) error {
	cf, _, err := splitFlags(args, nil)
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(cf)
	if err != nil {
		return err
	}
	for _, d := range snap.Diagnostics {
		fmt.Fprintf(os.Stderr, "warning: status %q: %s\n", d.Key, d.Message)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printUsage() {
	fmt.Printf(`taskrank %s — rank checkbox tasks from a markdown note corpus

Usage:
  taskrank <command> [arguments]

Commands:
  index [root]        Build the task index from a note corpus
  query <text>        Ask for tasks in natural language
  watch [root]        Index, then keep the index in sync with file changes
  serve-mcp           Serve taskrank tools over MCP stdio
  stats               Show index statistics
  config              Print the resolved configuration and its sources
  version             Print version

Query Flags:
  --mode <m>          plain, assisted-match, or assisted-analysis
  --limit <n>         Maximum tasks to return
  --sort <chain>      Comma-separated criteria, e.g. due,priority
  --json              Emit the full result as JSON
  --llm <p/model>     Model for assisted modes, e.g. google/gemini-2.5-flash

Common Flags:
  --config <path>     Config file (default ~/.taskrank/config.yaml)
  --db <path>         Database path
  --root <path>       Corpus root
  -h, --help          Show this help message
`, version)
}
