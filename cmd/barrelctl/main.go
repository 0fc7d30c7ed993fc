// Command barrelctl inspects and maintains a barrel index.
//
//	barrelctl [-config barrel.yaml] inspect  <dir>
//	barrelctl [-config barrel.yaml] verify   <dir>
//	barrelctl [-config barrel.yaml] optimize <dir>
//
// A target of the form s3://bucket/prefix opens the index in S3 using the
// default AWS credential chain.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hupe1980/barrel"
	"github.com/hupe1980/barrel/blobstore"
	"github.com/hupe1980/barrel/blobstore/s3"
	"github.com/hupe1980/barrel/docfilter"
	"github.com/hupe1980/barrel/internal/manifest"
	"github.com/hupe1980/barrel/internal/segment"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := barrel.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	if err := run(ctx, os.Stdout, flag.Arg(0), store, cfg); err != nil {
		slog.Error("command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: barrelctl [-config file] inspect|verify|optimize <dir|s3://bucket/prefix>\n")
	flag.PrintDefaults()
}

func openStore(ctx context.Context, target string) (blobstore.BlobStore, error) {
	rest, ok := strings.CutPrefix(target, "s3://")
	if !ok {
		return blobstore.NewLocalStore(target), nil
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("missing bucket in %q", target)
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s3.NewStore(awss3.NewFromConfig(cfg), bucket, prefix), nil
}

func run(ctx context.Context, w io.Writer, cmd string, store blobstore.BlobStore, cfg barrel.Config) error {
	switch cmd {
	case "inspect":
		return inspect(ctx, w, store)
	case "verify":
		return verify(ctx, w, store)
	case "optimize":
		return optimize(ctx, w, store, cfg)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func inspect(ctx context.Context, w io.Writer, store blobstore.BlobStore) error {
	m, err := manifest.NewStore(store).Load(ctx)
	if errors.Is(err, manifest.ErrNotFound) {
		fmt.Fprintln(w, "no index")
		return nil
	}
	if err != nil {
		return err
	}
	filter, err := docfilter.Load(ctx, store)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "manifest:    %s\n", manifest.FileName(m.ID))
	fmt.Fprintf(w, "created:     %s\n", m.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "compression: %s\n", m.Kind)
	fmt.Fprintf(w, "barrels:     %d\n", len(m.Barrels))
	fmt.Fprintf(w, "docs:        %d\n", m.DocCount())
	fmt.Fprintf(w, "deleted:     %d\n", filter.Count())
	fmt.Fprintf(w, "merges:      %v\n\n", m.MergeCounts)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDOCS\tBASE\tLAST\tTERMS\tCTF\tSIZE\tKIND\tLEVEL")
	for _, b := range m.Barrels {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%d\n",
			b.Name, b.DocCount, b.BaseDocID, b.LastDocID, b.TermCount, b.CTF, b.Size, b.Kind, b.Level)
	}
	return tw.Flush()
}

func verify(ctx context.Context, w io.Writer, store blobstore.BlobStore) error {
	m, err := manifest.NewStore(store).Load(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, b := range m.Barrels {
		st, err := verifyBarrel(ctx, store, b)
		if err != nil {
			fmt.Fprintf(w, "FAIL %s: %v\n", b.Name, err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
			continue
		}
		fmt.Fprintf(w, "ok   %s terms=%d postings=%d ctf=%d\n", b.Name, st.Terms, st.Postings, st.CTF)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d barrels failed verification: %w", len(errs), len(m.Barrels), errors.Join(errs...))
	}
	return nil
}

func verifyBarrel(ctx context.Context, store blobstore.BlobStore, b barrel.BarrelInfo) (segment.VerifyStats, error) {
	r, err := segment.Open(ctx, store, b)
	if err != nil {
		return segment.VerifyStats{}, err
	}
	defer r.Close()
	return r.Verify(ctx)
}

func optimize(ctx context.Context, w io.Writer, store blobstore.BlobStore, cfg barrel.Config) error {
	cfg.MergeMode = "sync"
	ix, err := barrel.Open(ctx, store, barrel.WithConfig(cfg))
	if err != nil {
		return err
	}
	before := ix.Status()
	start := time.Now()
	if err := ix.Optimize(ctx); err != nil {
		_ = ix.Close()
		return err
	}
	after := ix.Status()
	if err := ix.Close(); err != nil {
		return err
	}
	fmt.Fprintf(w, "optimized %d barrels (%d docs, %d deleted) into %d barrels (%d docs) in %s\n",
		before.Barrels, before.Docs, before.Deleted, after.Barrels, after.Docs, time.Since(start).Round(time.Millisecond))
	return nil
}
