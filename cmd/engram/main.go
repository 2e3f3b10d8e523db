package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aschepis/engramd/config"
	"github.com/aschepis/engramd/logger"
	"github.com/aschepis/engramd/memory"
	"github.com/aschepis/engramd/runtime"
)

const usage = `Usage: engram [flags] <command> [command flags]

Commands:
  record   store a chat message
  recall   run the intent gate and print injectable memory lines
  search   query memories directly
  recent   list recent memories
  detail   show one memory with its raw messages
  delete   delete a memory (undoable)
  undo     restore the last deleted memory
  archive  summarize pending messages now
  export   export message history
  stats    show message statistics
  bond     show the relationship level
  profile  print the stored profile
  clear    erase all data for an owner
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "engramd.yaml", "Path to YAML config file")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return fmt.Errorf("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// CLI runs are interactive; keep the log file out of the way.
	log, err := logger.InitWithOptions("", false)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app, err := runtime.NewApp(cfg, log)
	if err != nil {
		return err
	}
	defer app.Close() //nolint:errcheck // no remedy for close errors on exit

	ctx := context.Background()
	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "record":
		return cmdRecord(ctx, app, args)
	case "recall":
		return cmdRecall(ctx, app, args)
	case "search":
		return cmdSearch(ctx, app, args)
	case "recent":
		return cmdRecent(ctx, app, args)
	case "detail":
		return cmdDetail(ctx, app, args)
	case "delete":
		return cmdDelete(ctx, app, args)
	case "undo":
		return cmdUndo(ctx, app, args)
	case "archive":
		return cmdArchive(ctx, app, args)
	case "export":
		return cmdExport(ctx, app, args)
	case "stats":
		return cmdStats(ctx, app, args)
	case "bond":
		return cmdBond(ctx, app, args)
	case "profile":
		return cmdProfile(app, args)
	case "clear":
		return cmdClear(ctx, app, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func cmdRecord(ctx context.Context, app *runtime.App, args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id (required)")
	role := fs.String("role", "user", "Message role: user or assistant")
	name := fs.String("name", "", "Author display name")
	fs.Parse(args) //nolint:errcheck // ExitOnError flag set never returns an error

	if *owner == "" || fs.NArg() == 0 {
		return fmt.Errorf("record requires --owner and the message text")
	}

	stored, err := app.Service.Record(ctx, &memory.RawMessage{
		OwnerID:    *owner,
		Role:       memory.Role(*role),
		AuthorName: *name,
		Content:    strings.Join(fs.Args(), " "),
	})
	if err != nil {
		return err
	}
	if !stored {
		fmt.Println("filtered")
		return nil
	}
	fmt.Println("stored")
	return nil
}

func cmdRecall(ctx context.Context, app *runtime.App, args []string) error {
	fs := flag.NewFlagSet("recall", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id (required)")
	limit := fs.Int("limit", 0, "Max memories to return (0 = configured default)")
	fs.Parse(args) //nolint:errcheck // ExitOnError flag set never returns an error

	if *owner == "" || fs.NArg() == 0 {
		return fmt.Errorf("recall requires --owner and the query text")
	}

	lines, err := app.Service.Recall(ctx, *owner, strings.Join(fs.Args(), " "), *limit)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func cmdSearch(ctx context.Context, app *runtime.App, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id (required)")
	limit := fs.Int("limit", 0, "Max memories to return (0 = configured default)")
	fs.Parse(args) //nolint:errcheck // ExitOnError flag set never returns an error

	if *owner == "" || fs.NArg() == 0 {
		return fmt.Errorf("search requires --owner and the query text")
	}

	results, err := app.Service.Search(ctx, *owner, strings.Join(fs.Args(), " "), *limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no matching memories")
		return nil
	}
	for i, res := range results {
		fmt.Printf("%d. [%s] %d%% %s\n", i+1, res.ShortID, res.RelevancePercent, res.Text)
	}
	return nil
}

func cmdRecent(ctx context.Context, app *runtime.App, args []string) error {
	fs := flag.NewFlagSet("recent", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id (required)")
	limit := fs.Int("limit", 10, "Max memories to list")
	fs.Parse(args) //nolint:errcheck // ExitOnError flag set never returns an error

	if *owner == "" {
		return fmt.Errorf("recent requires --owner")
	}

	summaries, err := app.Service.Recent(ctx, *owner, *limit)
	if err != nil {
		return err
	}
	for i, sum := range summaries {
		fmt.Printf("%d. [%.8s] %s  %s\n", i+1, sum.ID, sum.CreatedAt.Format("2006-01-02 15:04"), sum.Text)
	}
	return nil
}

func cmdDetail(ctx context.Context, app *runtime.App, args []string) error {
	fs := flag.NewFlagSet("detail", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id (required)")
	seq := fs.Int("seq", 0, "Position in the recent list, 1 = newest")
	id := fs.String("id", "", "Memory id or 8-char prefix")
	fs.Parse(args) //nolint:errcheck // ExitOnError flag set never returns an error

	if *owner == "" {
		return fmt.Errorf("detail requires --owner")
	}

	var (
		sum  *memory.Summary
		raws []memory.RawMessage
		err  error
	)
	switch {
	case *id != "":
		sum, raws, err = app.Service.DetailByID(ctx, *owner, *id)
	case *seq > 0:
		sum, raws, err = app.Service.Detail(ctx, *owner, *seq)
	default:
		return fmt.Errorf("detail requires --seq or --id")
	}
	if err != nil {
		return err
	}

	fmt.Printf("id: %s\ncreated: %s\nscore: %d\n%s\n", sum.ID, sum.CreatedAt.Format(time.RFC3339), sum.ActiveScore, sum.Text)
	for _, raw := range raws {
		fmt.Printf("  [%s] %s: %s\n", raw.Timestamp.Format("15:04"), raw.Role, raw.Content)
	}
	return nil
}

func cmdDelete(ctx context.Context, app *runtime.App, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id (required)")
	seq := fs.Int("seq", 0, "Position in the recent list, 1 = newest")
	id := fs.String("id", "", "Memory id or 8-char prefix")
	raw := fs.Bool("raw", false, "Also delete the underlying raw messages")
	fs.Parse(args) //nolint:errcheck // ExitOnError flag set never returns an error

	if *owner == "" {
		return fmt.Errorf("delete requires --owner")
	}

	var (
		deletedID string
		err       error
	)
	switch {
	case *id != "":
		deletedID, err = app.Service.DeleteByID(ctx, *owner, *id, *raw)
	case *seq > 0:
		deletedID, err = app.Service.Delete(ctx, *owner, *seq, *raw)
	default:
		return fmt.Errorf("delete requires --seq or --id")
	}
	if err != nil {
		return err
	}
	fmt.Printf("deleted %s (undo available)\n", deletedID)
	return nil
}

func cmdUndo(ctx context.Context, app *runtime.App, args []string) error {
	fs := flag.NewFlagSet("undo", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id (required)")
	fs.Parse(args) //nolint:errcheck // ExitOnError flag set never returns an error

	if *owner == "" {
		return fmt.Errorf("undo requires --owner")
	}

	restoredID, err := app.Service.Undo(ctx, *owner)
	if err != nil {
		return err
	}
	fmt.Printf("restored %s\n", restoredID)
	return nil
}

func cmdArchive(ctx context.Context, app *runtime.App, args []string) error {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id. Empty archives every owner")
	fs.Parse(args) //nolint:errcheck // ExitOnError flag set never returns an error

	if *owner != "" {
		if err := app.Archiver.ArchiveOwner(ctx, *owner); err != nil {
			return err
		}
		fmt.Println("archived")
		return nil
	}
	n, err := app.Archiver.ArchiveAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("archived %d owners\n", n)
	return nil
}

func cmdExport(ctx context.Context, app *runtime.App, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id. Empty exports every owner")
	format := fs.String("format", "jsonl", "Export format: jsonl, json, txt, alpaca, sharegpt")
	out := fs.String("out", "", "Output file. Empty writes to stdout")
	limit := fs.Int("limit", 0, "Max messages to export (0 = all)")
	fs.Parse(args) //nolint:errcheck // ExitOnError flag set never returns an error

	content, stats, err := app.Service.Export(ctx, *owner, memory.ExportFormat(*format), nil, nil, *limit)
	if err != nil {
		return err
	}

	if *out == "" {
		fmt.Print(content)
	} else {
		if err := os.WriteFile(*out, []byte(content), 0o600); err != nil {
			return fmt.Errorf("write export file: %w", err)
		}
	}
	fmt.Fprintf(os.Stderr, "exported %d of %d messages\n", stats.Exported, stats.Total)
	return nil
}

func cmdStats(ctx context.Context, app *runtime.App, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id. Empty covers every owner")
	fs.Parse(args) //nolint:errcheck // ExitOnError flag set never returns an error

	stats, err := app.Service.Stats(ctx, *owner)
	if err != nil {
		return err
	}
	fmt.Printf("total: %d\nuser: %d\nassistant: %d\narchived: %d\nunarchived: %d\n",
		stats.Total, stats.UserMsgs, stats.AssistantMsgs, stats.Archived, stats.Unarchived)
	return nil
}

func cmdBond(ctx context.Context, app *runtime.App, args []string) error {
	fs := flag.NewFlagSet("bond", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id (required)")
	fs.Parse(args) //nolint:errcheck // ExitOnError flag set never returns an error

	if *owner == "" {
		return fmt.Errorf("bond requires --owner")
	}

	bond, err := app.Service.Bond(ctx, *owner)
	if err != nil {
		return err
	}
	fmt.Printf("Lv.%d %s (%d/100)\n", bond.Level, bond.LevelName, bond.Progress)
	for _, a := range bond.Breakdown.Achievements {
		fmt.Printf("  🏆 %s\n", a)
	}
	for _, hint := range bond.NextLevelHint {
		fmt.Printf("  ▸ %s\n", hint)
	}
	return nil
}

func cmdProfile(app *runtime.App, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id (required)")
	fs.Parse(args) //nolint:errcheck // ExitOnError flag set never returns an error

	if *owner == "" {
		return fmt.Errorf("profile requires --owner")
	}

	p, err := app.Service.Profile(*owner)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func cmdClear(ctx context.Context, app *runtime.App, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	owner := fs.String("owner", "", "Owner id (required)")
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	fs.Parse(args) //nolint:errcheck // ExitOnError flag set never returns an error

	if *owner == "" {
		return fmt.Errorf("clear requires --owner")
	}
	if !*yes {
		fmt.Printf("This permanently erases all data for %s. Re-run with --yes to confirm.\n", *owner)
		return nil
	}

	if err := app.Service.ClearOwner(ctx, *owner); err != nil {
		return err
	}
	fmt.Println("cleared")
	return nil
}
