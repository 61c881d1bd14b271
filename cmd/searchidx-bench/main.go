// Command searchidx-bench exercises sequential vs. bulk ingestion against
// a disposable on-disk index, reporting throughput for both paths. It is
// ordinary demo/bench tooling, the ambient CLI surface shipped alongside
// the library, not a query front-end.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/rpcpool/searchidx/index"
)

func main() {
	app := &cli.App{
		Name:  "searchidx-bench",
		Usage: "benchmark sequential vs. bulk ingestion for the embeddable search index",
		Commands: []*cli.Command{
			newCmd_Run(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCmd_Run() *cli.Command {
	var numDocs int
	var numThreads int
	var autocomplete bool
	var dir string
	return &cli.Command{
		Name:        "run",
		Description: "ingest a synthetic corpus sequentially and via bulk, report elapsed time for each",
		Before: func(c *cli.Context) error {
			if dir == "" {
				d, err := os.MkdirTemp("", "searchidx-bench-*")
				if err != nil {
					return err
				}
				dir = d
			}
			return nil
		},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "docs",
				Usage:       "number of synthetic documents to ingest",
				Value:       10_000,
				Destination: &numDocs,
			},
			&cli.IntFlag{
				Name:        "threads",
				Usage:       "bulk merge thread count",
				Value:       4,
				Destination: &numThreads,
			},
			&cli.BoolFlag{
				Name:        "autocomplete",
				Usage:       "enable prefix-token generation",
				Value:       true,
				Destination: &autocomplete,
			},
			&cli.StringFlag{
				Name:        "dir",
				Usage:       "working directory for the two index files (defaults to a temp dir)",
				Destination: &dir,
			},
		},
		Action: func(c *cli.Context) error {
			return runBench(dir, numDocs, numThreads, autocomplete)
		},
	}
}

func runBench(dir string, numDocs, numThreads int, autocomplete bool) error {
	seqElapsed, err := benchSequential(filepath.Join(dir, "seq"), numDocs, autocomplete)
	if err != nil {
		return fmt.Errorf("sequential run: %w", err)
	}
	bulkElapsed, err := benchBulk(filepath.Join(dir, "bulk"), numDocs, numThreads, autocomplete)
	if err != nil {
		return fmt.Errorf("bulk run: %w", err)
	}
	fmt.Printf("sequential: %d docs in %s (%.0f docs/s)\n", numDocs, seqElapsed, float64(numDocs)/seqElapsed.Seconds())
	fmt.Printf("bulk (%d threads): %d docs in %s (%.0f docs/s)\n", numThreads, numDocs, bulkElapsed, float64(numDocs)/bulkElapsed.Seconds())
	return nil
}

func benchSequential(prefix string, numDocs int, autocomplete bool) (time.Duration, error) {
	if err := os.MkdirAll(filepath.Dir(prefix), 0o755); err != nil {
		return 0, err
	}
	fs, err := index.OpenFileStore(prefix+".docs", prefix+".tokens")
	if err != nil {
		return 0, err
	}
	defer fs.Close()

	var opts []index.Option
	if autocomplete {
		opts = append(opts, index.WithAutocomplete(0))
	}
	ix := index.New(fs, wordTokenizer{}, opts...)

	bar := progressbar.Default(int64(numDocs), "sequential")
	start := time.Now()
	for i := 0; i < numDocs; i++ {
		if err := ix.Add(syntheticDoc(i)); err != nil {
			return 0, err
		}
		bar.Add(1)
	}
	return time.Since(start), nil
}

func benchBulk(prefix string, numDocs, numThreads int, autocomplete bool) (time.Duration, error) {
	if err := os.MkdirAll(filepath.Dir(prefix), 0o755); err != nil {
		return 0, err
	}
	fs, err := index.OpenFileStore(prefix+".docs", prefix+".tokens")
	if err != nil {
		return 0, err
	}
	defer fs.Close()

	var opts []index.Option
	if autocomplete {
		opts = append(opts, index.WithAutocomplete(0))
	}
	opts = append(opts, index.WithBulkThreads(numThreads))
	ix := index.New(fs, wordTokenizer{}, opts...)
	ix.EnableMetrics("searchidx_bench")

	writers, err := ix.BulkWriters(numThreads)
	if err != nil {
		return 0, err
	}

	bar := progressbar.Default(int64(numDocs), "bulk-stage")
	start := time.Now()
	for i := 0; i < numDocs; i++ {
		w := writers[i%numThreads]
		if err := w.Add(syntheticDoc(i)); err != nil {
			return 0, err
		}
		bar.Add(1)
	}
	if err := ix.BulkAdd(writers); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// --- synthetic corpus ---

type benchDoc struct {
	id   uint64
	text string
}

func syntheticDoc(i int) benchDoc {
	return benchDoc{id: uint64(i), text: fmt.Sprintf("document number %d about topic %d and subject %d", i, i%97, i%31)}
}

func (d benchDoc) DocID() []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(d.id >> (8 * i))
	}
	return b[:]
}

func (d benchDoc) Serialize() []byte { return []byte(d.text) }
func (d benchDoc) Texts() []string   { return []string{d.text} }

// wordTokenizer is a minimal stand-in for the external tokenizer
// collaborator: splits on whitespace and lowercases, enough to exercise
// the index without depending on a real normalisation library.
type wordTokenizer struct{}

func (wordTokenizer) Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return unicode.IsSpace(r) })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.ToLower(f))
	}
	return out
}
