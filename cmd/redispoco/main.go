// redispoco - query JSON records indexed in Redis
//
// Records live in a Redis hash; their indexed attributes are mirrored into
// sets and sorted sets so filters never scan.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/adrianmcphee/redispoco"
	"github.com/adrianmcphee/redispoco/internal/config"
)

func main() {
	globals := flag.NewFlagSet("redispoco", flag.ExitOnError)
	configPath := globals.String("config", os.Getenv("REDISPOCO_CONFIG"), "YAML config file")
	globals.Usage = printHelp
	_ = globals.Parse(os.Args[1:])

	args := globals.Args()
	if len(args) == 0 {
		printHelp()
		os.Exit(2)
	}
	if cmd := args[0]; cmd == "help" || cmd == "--help" || cmd == "-h" {
		printHelp()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "redispoco %s: %v\n", args[0], err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`redispoco - query JSON records indexed in Redis

Usage:
  redispoco [-config file] <command> [args]

Commands:
  put [-auto-id] <json>|-    Store a record (JSON object, "-" reads stdin)
  get <id>                   Print a record
  rm <id>                    Remove a record
  filter <json>              List ids matching a JSON filter, e.g. {"size":{"min":2}}
  where <expr>               List ids matching a SQL WHERE clause
  values <attribute>         List the indexed values of an attribute
  clear                      Delete every key of the namespace
  rebuild                    Re-derive all index structures from stored records
  verify [-repair]           Check index entries against stored records
  export [-archive name]     Write a JSON Lines snapshot to stdout or the archive
  import [-archive name]     Read a JSON Lines snapshot from stdin or the archive
  archives [prefix]          List snapshots in the archive

Configuration:
  YAML file (-config or REDISPOCO_CONFIG), then REDISPOCO_* and REDIS_*
  environment variables. store.attributes is required.`)
}

type app struct {
	cfg    *config.Config
	store  *redispoco.Store
	logger *redispoco.ZapLogger
	out    io.Writer
}

func run(ctx context.Context, configPath, cmd string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	redisOpts, err := cfg.Redis.Options()
	if err != nil {
		return err
	}
	storage, err := redispoco.Connect(ctx, redisOpts)
	if err != nil {
		return err
	}

	opts := cfg.StoreOptions()
	opts.Logger = logger
	if cmd == "put" {
		autoID, rest, err := parsePutFlags(args)
		if err != nil {
			_ = storage.Close()
			return err
		}
		opts.AutoID = opts.AutoID || autoID
		args = rest
	}

	store, err := redispoco.New(storage, opts)
	if err != nil {
		_ = storage.Close()
		return err
	}
	defer func() { _ = store.Close() }()

	logger.Debug("connected", "redis", cfg.Redis.String(), "namespace", opts.Namespace)

	a := &app{cfg: cfg, store: store, logger: logger, out: os.Stdout}
	switch cmd {
	case "put":
		return a.put(ctx, args)
	case "get":
		return a.get(ctx, args)
	case "rm":
		return a.remove(ctx, args)
	case "filter":
		return a.filter(ctx, args)
	case "where":
		return a.where(ctx, args)
	case "values":
		return a.values(ctx, args)
	case "clear":
		n, err := store.RemoveAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "deleted %d keys\n", n)
		return nil
	case "rebuild":
		n, err := store.Rebuild(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "indexed %d records\n", n)
		return nil
	case "verify":
		return a.verify(ctx, args)
	case "export":
		return a.export(ctx, args)
	case "import":
		return a.importSnapshot(ctx, args)
	case "archives":
		return a.archives(ctx, args)
	}
	return fmt.Errorf("unknown command %q (see redispoco help)", cmd)
}

func newLogger(cfg config.LogConfig) (*redispoco.ZapLogger, error) {
	return redispoco.NewConfiguredZapLogger(redispoco.ZapLoggerOptions{
		Level:       cfg.Level,
		Development: cfg.Development,
	})
}

// parsePutFlags splits the put arguments into the -auto-id flag and the
// remaining record argument. The store must be opened with AutoID before
// the record is read, so this runs ahead of put.
func parsePutFlags(args []string) (autoID bool, rest []string, err error) {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&autoID, "auto-id", false, "assign a fresh id when the record has none")
	if err := fs.Parse(args); err != nil {
		return false, nil, err
	}
	return autoID, fs.Args(), nil
}

func oneArg(args []string, what string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("expected exactly one %s", what)
	}
	return args[0], nil
}

// put stores one record. Flags are already stripped by parsePutFlags.
func (a *app) put(ctx context.Context, args []string) error {
	src, err := oneArg(args, "record")
	if err != nil {
		return err
	}

	data := []byte(src)
	if src == "-" {
		if data, err = io.ReadAll(os.Stdin); err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	id, err := a.store.PutJSON(ctx, data)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, id)
	return nil
}

func (a *app) get(ctx context.Context, args []string) error {
	id, err := oneArg(args, "id")
	if err != nil {
		return err
	}
	rec, err := a.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no record with id %q", id)
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func (a *app) remove(ctx context.Context, args []string) error {
	id, err := oneArg(args, "id")
	if err != nil {
		return err
	}
	return a.store.Remove(ctx, id)
}

func (a *app) filter(ctx context.Context, args []string) error {
	expr, err := oneArg(args, "filter")
	if err != nil {
		return err
	}
	f, err := redispoco.ParseFilterJSON([]byte(expr))
	if err != nil {
		return err
	}
	return a.printIDs(ctx, f)
}

func (a *app) where(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected a WHERE clause")
	}
	f, err := redispoco.ParseWhere(strings.Join(args, " "))
	if err != nil {
		return err
	}
	return a.printIDs(ctx, f)
}

func (a *app) printIDs(ctx context.Context, f redispoco.Filter) error {
	ids, err := a.store.Filter(ctx, f)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(a.out, id)
	}
	return nil
}

func (a *app) values(ctx context.Context, args []string) error {
	attr, err := oneArg(args, "attribute")
	if err != nil {
		return err
	}
	values, err := a.store.AttributeValues(ctx, attr)
	if err != nil {
		return err
	}
	for _, v := range values {
		fmt.Fprintln(a.out, v)
	}
	return nil
}

func (a *app) verify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	repair := fs.Bool("repair", false, "re-add missing index entries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	report, err := a.store.Verify(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "records: %d\nunreadable: %d\nmissing entries: %d\ndrift: %.2f%%\n",
		report.Records, report.Unreadable, report.MissingEntries, report.DriftPercentage)

	if *repair && !report.Healthy() {
		n, err := a.store.Repair(ctx, report)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "repaired: %d\n", n)
	}
	return nil
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	name := fs.String("archive", "", "snapshot name in the configured archive")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *name == "" {
		_, err := a.store.Export(ctx, a.out)
		return err
	}

	archive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = archive.Close() }()

	n, err := a.store.ExportTo(ctx, archive, *name)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exported %d records to %s\n", n, *name)
	return nil
}

func (a *app) importSnapshot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	name := fs.String("archive", "", "snapshot name in the configured archive")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		n   int
		err error
	)
	if *name == "" {
		n, err = a.store.Import(ctx, os.Stdin)
	} else {
		archive, openErr := a.openArchive(ctx)
		if openErr != nil {
			return openErr
		}
		defer func() { _ = archive.Close() }()
		n, err = a.store.ImportFrom(ctx, archive, *name)
	}
	if err != nil {
		return fmt.Errorf("imported %d records before failing: %w", n, err)
	}
	fmt.Fprintf(a.out, "imported %d records\n", n)
	return nil
}

func (a *app) archives(ctx context.Context, args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	archive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = archive.Close() }()

	names, err := archive.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(a.out, name)
	}
	return nil
}

func (a *app) openArchive(ctx context.Context) (redispoco.Archive, error) {
	ac := a.cfg.Archive
	switch ac.Kind {
	case "s3":
		return redispoco.NewS3ArchiveFromEnv(ctx, ac.Bucket, ac.Prefix)
	case "minio":
		return redispoco.NewMinIOArchive(redispoco.MinIOConfig{
			Endpoint:        ac.Endpoint,
			AccessKeyID:     ac.AccessKeyID,
			SecretAccessKey: ac.SecretAccessKey,
			UseSSL:          ac.UseSSL,
			Bucket:          ac.Bucket,
			Prefix:          ac.Prefix,
		})
	case "gcs":
		return redispoco.NewGCSArchive(ctx, redispoco.GCSConfig{
			Bucket:          ac.Bucket,
			Prefix:          ac.Prefix,
			CredentialsFile: ac.CredentialsFile,
			Endpoint:        ac.Endpoint,
		})
	}
	return nil, errors.New("no archive configured (set archive.kind)")
}
