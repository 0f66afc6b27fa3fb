// Command qdb is the store's CLI: open a durable store and serve it, bulk
// load/dump RDF, run one-off queries and updates, or convert between RDF
// syntaxes. Grounded on the teacher's cmd/trigo/main.go (hand-dispatched
// os.Args subcommands, log.Fatalf on fatal setup errors, no flag/config
// library — the ambient-stack decision recorded for this repo follows the
// teacher in keeping the CLI dependency-free), extended with the
// serve-read-only/backup/load/dump/optimize/convert subcommands the
// teacher never had since its store only supported demo/query/serve.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/relique/qdb/internal/server"
	"github.com/relique/qdb/pkg/qdberr"
	"github.com/relique/qdb/pkg/quadstore"
	"github.com/relique/qdb/pkg/rdf"
	"github.com/relique/qdb/pkg/rdfio"
	"github.com/relique/qdb/pkg/sparql/exec"
	"github.com/relique/qdb/pkg/sparql/parser"
	"github.com/relique/qdb/pkg/sparql/results"
	"github.com/relique/qdb/pkg/storage/badger"
	"github.com/relique/qdb/pkg/storage/memory"
	"github.com/relique/qdb/pkg/update"
)

// Exit codes: 0 success, 1 user error (bad args, bad query), 2 I/O error,
// 3 internal error. A *qdberr.Error's Kind decides which of the latter two
// a failure maps to.
const (
	exitOK       = 0
	exitUsage    = 1
	exitIO       = 2
	exitInternal = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitUsage
	}

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "serve":
		return cmdServe(rest, false)
	case "serve-read-only":
		return cmdServe(rest, true)
	case "backup":
		return cmdBackup(rest)
	case "load":
		return cmdLoad(rest)
	case "dump":
		return cmdDump(rest)
	case "query":
		return cmdQuery(rest)
	case "update":
		return cmdUpdate(rest)
	case "optimize":
		return cmdOptimize(rest)
	case "convert":
		return cmdConvert(rest)
	case "-h", "--help", "help":
		printUsage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "qdb: unknown command %q\n", cmd)
		printUsage()
		return exitUsage
	}
}

func printUsage() {
	fmt.Println(`Usage: qdb <command> [flags]

Commands:
  serve --location DIR [--bind ADDR] [--cors] [--union-default-graph]
  serve-read-only --location DIR [--bind ADDR] [--cors]
  backup --location DIR --to DIR
  load --location DIR --file PATH [--format FMT] [--graph IRI] [--base IRI] [--lenient]
  dump --location DIR --file PATH [--format FMT] [--graph IRI]
  query --location DIR (--query-string Q | --file PATH) [--format FMT] [--explain [--stats]]
  update --location DIR (--update-string U | --file PATH)
  optimize --location DIR
  convert --from-format FMT --to-format FMT --file PATH [--out PATH]

Flags are order-independent "--name value" pairs; boolean flags take no
value. --location may be omitted for query/update/convert to run against
a throwaway in-memory store (useful for one-off syntax checks).`)
}

// flagSet is a minimal hand-rolled "--name value" parser, in place of the
// standard flag package, matching the teacher's dependency-free CLI.
type flagSet struct {
	values map[string]string
	bools  map[string]bool
}

func parseFlags(args []string, boolFlags map[string]bool) (*flagSet, error) {
	fs := &flagSet{values: map[string]string{}, bools: map[string]bool{}}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "--") {
			return nil, qdberr.Valuef("unexpected argument %q", a)
		}
		name := strings.TrimPrefix(a, "--")
		if boolFlags[name] {
			fs.bools[name] = true
			continue
		}
		if i+1 >= len(args) {
			return nil, qdberr.Valuef("flag --%s requires a value", name)
		}
		fs.values[name] = args[i+1]
		i++
	}
	return fs, nil
}

func (fs *flagSet) get(name, def string) string {
	if v, ok := fs.values[name]; ok {
		return v
	}
	return def
}

func (fs *flagSet) bool(name string) bool { return fs.bools[name] }

func openStore(location string, readOnly bool) (*quadstore.Store, error) {
	if location == "" {
		return quadstore.New(memory.New()), nil
	}
	b, err := badger.Open(location, readOnly)
	if err != nil {
		return nil, err
	}
	return quadstore.New(b), nil
}

// exitFor maps an error to a process exit code by qdberr.Kind, so every
// subcommand reports a consistent code regardless of which layer failed.
func exitFor(err error) int {
	if err == nil {
		return exitOK
	}
	switch {
	case qdberr.Is(err, qdberr.Syntax), qdberr.Is(err, qdberr.Value):
		return exitUsage
	case qdberr.Is(err, qdberr.Io):
		return exitIO
	default:
		return exitInternal
	}
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "qdb: %v\n", err)
	return exitFor(err)
}

func cmdServe(args []string, readOnly bool) int {
	fs, err := parseFlags(args, map[string]bool{"cors": true, "union-default-graph": true})
	if err != nil {
		return fail(err)
	}
	location := fs.get("location", "")
	if location == "" {
		return fail(qdberr.Valuef("serve requires --location"))
	}
	addr := fs.get("bind", "localhost:8080")

	store, err := openStore(location, readOnly)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	srv := server.New(store, server.Config{
		Addr:              addr,
		CORS:              fs.bool("cors"),
		UnionDefaultGraph: fs.bool("union-default-graph"),
	})
	if err := srv.ListenAndServe(); err != nil {
		return fail(qdberr.Wrap(qdberr.Io, err, "serve"))
	}
	return exitOK
}

func cmdBackup(args []string) int {
	fs, err := parseFlags(args, nil)
	if err != nil {
		return fail(err)
	}
	location := fs.get("location", "")
	dest := fs.get("to", "")
	if location == "" || dest == "" {
		return fail(qdberr.Valuef("backup requires --location and --to"))
	}

	store, err := openStore(location, false)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	if err := store.Backup(dest); err != nil {
		return fail(err)
	}
	log.Printf("qdb: backup of %s written to %s", location, dest)
	return exitOK
}

func cmdLoad(args []string) int {
	fs, err := parseFlags(args, map[string]bool{"lenient": true})
	if err != nil {
		return fail(err)
	}
	location := fs.get("location", "")
	path := fs.get("file", "")
	if location == "" || path == "" {
		return fail(qdberr.Valuef("load requires --location and --file"))
	}

	format, err := resolveFormat(fs.get("format", ""), path)
	if err != nil {
		return fail(err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fail(qdberr.Wrap(qdberr.Io, err, "load: open file"))
	}
	defer f.Close()

	store, err := openStore(location, false)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	var graph rdf.Term = rdf.NewDefaultGraph()
	if g := fs.get("graph", ""); g != "" {
		graph = rdf.NewNamedNode(g)
	}

	loader := quadstore.NewBulkLoader(store, 0)
	ch := make(chan *rdf.Quad, 4096)
	opts := rdfio.Options{BaseIRI: fs.get("base", ""), Lenient: fs.bool("lenient")}

	parseErrCh := make(chan error, 1)
	go func() {
		defer close(ch)
		parseErrCh <- rdfio.ParseReader(format, f, opts, func(q *rdf.Quad) error {
			if _, isDefault := q.Graph.(*rdf.DefaultGraph); isDefault {
				q.Graph = graph
			}
			ch <- q
			return nil
		})
	}()

	if err := loader.Load(ch); err != nil {
		return fail(err)
	}
	if err := <-parseErrCh; err != nil {
		return fail(err)
	}
	log.Printf("qdb: loaded %d quads (%d skipped) from %s", loader.Inserted, loader.Skipped, path)
	return exitOK
}

func cmdDump(args []string) int {
	fs, err := parseFlags(args, nil)
	if err != nil {
		return fail(err)
	}
	location := fs.get("location", "")
	path := fs.get("file", "")
	if location == "" || path == "" {
		return fail(qdberr.Valuef("dump requires --location and --file"))
	}
	format, ok := rdfio.ParseFormat(fs.get("format", "nquads"))
	if !ok {
		return fail(qdberr.Valuef("unknown format %q", fs.get("format", "")))
	}

	store, err := openStore(location, true)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	out, err := os.Create(path)
	if err != nil {
		return fail(qdberr.Wrap(qdberr.Io, err, "dump: create file"))
	}
	defer out.Close()

	txn, err := store.StartTransaction(false)
	if err != nil {
		return fail(err)
	}
	defer txn.Rollback()

	pattern := &quadstore.Pattern{}
	if g := fs.get("graph", ""); g != "" {
		pattern.Graph = rdf.NewNamedNode(g)
	}
	it, err := txn.QuadsForPattern(pattern)
	if err != nil {
		return fail(err)
	}
	defer it.Close()

	wr := rdfio.NewWriter(out, format)
	n := 0
	for it.Next() {
		q, err := it.Quad()
		if err != nil {
			return fail(err)
		}
		if err := wr.WriteQuad(q); err != nil {
			return fail(qdberr.Wrap(qdberr.Io, err, "dump: write"))
		}
		n++
	}
	if err := it.Err(); err != nil {
		return fail(err)
	}
	if err := wr.Close(); err != nil {
		return fail(qdberr.Wrap(qdberr.Io, err, "dump: close"))
	}
	log.Printf("qdb: dumped %d quads to %s", n, path)
	return exitOK
}

func readQueryOrFile(fs *flagSet, inlineFlag string) (string, error) {
	if s := fs.get(inlineFlag, ""); s != "" {
		return s, nil
	}
	if path := fs.get("file", ""); path != "" {
		if path == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return "", qdberr.Wrap(qdberr.Io, err, "read stdin")
			}
			return string(data), nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", qdberr.Wrap(qdberr.Io, err, "read file")
		}
		return string(data), nil
	}
	return "", qdberr.Valuef("missing --%s or --file", inlineFlag)
}

func cmdQuery(args []string) int {
	fs, err := parseFlags(args, map[string]bool{"explain": true, "stats": true})
	if err != nil {
		return fail(err)
	}
	queryString, err := readQueryOrFile(fs, "query-string")
	if err != nil {
		return fail(err)
	}

	q, err := parser.ParseQuery(queryString)
	if err != nil {
		return fail(err)
	}

	store, err := openStore(fs.get("location", ""), true)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	txn, err := store.StartTransaction(false)
	if err != nil {
		return fail(err)
	}
	defer txn.Rollback()

	if fs.bool("explain") {
		fmt.Println(explainPlan(q, fs.bool("stats"), txn))
		return exitOK
	}

	res, err := exec.Run(q, txn, exec.DefaultLimits())
	if err != nil {
		return fail(err)
	}

	format, ok := results.ParseFormat(fs.get("format", "json"))
	if !ok {
		return fail(qdberr.Valuef("unknown results format %q", fs.get("format", "")))
	}
	if res.Triples != nil {
		rdfFormat, ok := rdfio.ParseFormat(fs.get("format", "ntriples"))
		if !ok {
			rdfFormat = rdfio.FormatNTriples
		}
		wr := rdfio.NewWriter(os.Stdout, rdfFormat)
		for _, t := range res.Triples {
			_ = wr.WriteQuad(rdf.NewQuad(t.Subject, t.Predicate, t.Object, rdf.NewDefaultGraph()))
		}
		_ = wr.Close()
		return exitOK
	}

	body, err := results.Marshal(res, format)
	if err != nil {
		return fail(err)
	}
	os.Stdout.Write(body)
	fmt.Println()
	return exitOK
}

func cmdUpdate(args []string) int {
	fs, err := parseFlags(args, nil)
	if err != nil {
		return fail(err)
	}
	updateString, err := readQueryOrFile(fs, "update-string")
	if err != nil {
		return fail(err)
	}
	ops, err := parser.ParseUpdate(updateString)
	if err != nil {
		return fail(err)
	}

	store, err := openStore(fs.get("location", ""), false)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	ex := update.New(store, exec.DefaultLimits())
	if err := ex.Execute(context.Background(), ops); err != nil {
		return fail(err)
	}
	return exitOK
}

// cmdOptimize opens the store and flushes it to stable storage with
// Store.Sync. It runs no badger value-log GC or compaction pass. The
// in-memory backend's Sync does nothing; that backend prunes old versions
// itself whenever a transaction releases its snapshot (gcLocked).
func cmdOptimize(args []string) int {
	fs, err := parseFlags(args, nil)
	if err != nil {
		return fail(err)
	}
	location := fs.get("location", "")
	if location == "" {
		return fail(qdberr.Valuef("optimize requires --location"))
	}
	store, err := openStore(location, false)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	if err := store.Sync(); err != nil {
		return fail(err)
	}
	log.Printf("qdb: synced %s", location)
	return exitOK
}

func cmdConvert(args []string) int {
	fs, err := parseFlags(args, map[string]bool{"lenient": true})
	if err != nil {
		return fail(err)
	}
	path := fs.get("file", "")
	if path == "" {
		return fail(qdberr.Valuef("convert requires --file"))
	}
	fromFormat, err := resolveFormat(fs.get("from-format", ""), path)
	if err != nil {
		return fail(err)
	}
	toFormat, ok := rdfio.ParseFormat(fs.get("to-format", ""))
	if !ok {
		return fail(qdberr.Valuef("convert requires a known --to-format"))
	}

	in, err := os.Open(path)
	if err != nil {
		return fail(qdberr.Wrap(qdberr.Io, err, "convert: open file"))
	}
	defer in.Close()

	var out io.Writer = os.Stdout
	if outPath := fs.get("out", ""); outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fail(qdberr.Wrap(qdberr.Io, err, "convert: create output"))
		}
		defer f.Close()
		out = f
	}

	wr := rdfio.NewWriter(out, toFormat)
	opts := rdfio.Options{BaseIRI: fs.get("base", ""), Lenient: fs.bool("lenient")}
	err = rdfio.ParseReader(fromFormat, in, opts, func(q *rdf.Quad) error {
		return wr.WriteQuad(q)
	})
	if err != nil {
		return fail(err)
	}
	if err := wr.Close(); err != nil {
		return fail(qdberr.Wrap(qdberr.Io, err, "convert: close"))
	}
	return exitOK
}

// resolveFormat parses an explicit --format value. Without one it returns
// a Value error: the format is not detected from the file extension.
func resolveFormat(explicit, path string) (rdfio.Format, error) {
	if explicit != "" {
		f, ok := rdfio.ParseFormat(explicit)
		if !ok {
			return 0, qdberr.Valuef("unknown format %q", explicit)
		}
		return f, nil
	}
	return 0, qdberr.Valuef("no --format given for %s (file-extension autodetection is not supported)", path)
}
