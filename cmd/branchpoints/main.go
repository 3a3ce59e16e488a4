package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/branchpoints"
	"github.com/i5heu/branchpoints/internal/backup"
	"github.com/i5heu/branchpoints/internal/config"
)

func usage() {
	fmt.Println("Usage: branchpoints [-config file] <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  query [-timeout d] <repository> <source-url> <target-url>")
	fmt.Println("  list [repository]")
	fmt.Println("  export <file>")
	fmt.Println("  import <file>")
	fmt.Println("  compact")
}

func main() {
	configPath := flag.String("config", "branchpoints.yaml", "path to the YAML config")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	conf, err := config.GetConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level %q: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	log.SetLevel(level)

	calc, err := branchpoints.New(branchpoints.Config{
		SystemPath:                conf.SystemPath,
		ProjectHash:               conf.ProjectHash,
		MinimumFreeGB:             conf.MinimumFreeGB,
		Logger:                    log,
		GarbageCollectionInterval: conf.GarbageCollectionInterval(),
		Workers:                   conf.Workers,
		QueueSize:                 conf.QueueSize,
		Repositories:              conf.Repositories,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing calculator: %v\n", err)
		os.Exit(1)
	}
	if err := calc.Activate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error activating calculator: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	err = run(calc, log, args[0], args[1:])
	if closeErr := calc.Deactivate(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Error deactivating calculator: %v\n", closeErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(calc *branchpoints.Calculator, log *logrus.Logger, command string, args []string) error {
	switch command {
	case "query":
		queryCmd := flag.NewFlagSet("query", flag.ExitOnError)
		timeout := queryCmd.Duration("timeout", time.Minute, "give up after this long")
		queryCmd.Parse(args)
		if queryCmd.NArg() < 3 {
			return fmt.Errorf("usage: branchpoints query <repository> <source-url> <target-url>")
		}
		return query(calc, *timeout, queryCmd.Arg(0), queryCmd.Arg(1), queryCmd.Arg(2))

	case "list":
		return list(calc, args)

	case "export":
		if len(args) < 1 {
			return fmt.Errorf("usage: branchpoints export <file>")
		}
		return export(calc, log, args[0])

	case "import":
		if len(args) < 1 {
			return fmt.Errorf("usage: branchpoints import <file>")
		}
		return restore(calc, log, args[0])

	case "compact":
		ix, err := calc.Index()
		if err != nil {
			return err
		}
		if err := ix.Compact(); err != nil {
			return err
		}
		fmt.Println("Compaction successful.")
		return nil
	}

	usage()
	return fmt.Errorf("unknown command: %s", command)
}

func query(calc *branchpoints.Calculator, timeout time.Duration, repo, source, target string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	r, err := calc.BranchPoint(ctx, repo, source, target)
	if err != nil {
		return err
	}
	if r == nil {
		fmt.Println("No common copy ancestry.")
		return nil
	}
	fmt.Printf("Copy:     %s\n", r.Wrapped)
	fmt.Printf("Inverted: %t\n", r.Inverted)
	fmt.Printf("As asked: %s\n", r.TrueValue())
	return nil
}

func list(calc *branchpoints.Calculator, args []string) error {
	ix, err := calc.Index()
	if err != nil {
		return err
	}

	repos := args
	if len(repos) == 0 {
		repos, err = ix.Repositories()
		if err != nil {
			return err
		}
	}

	for _, repo := range repos {
		entries, err := ix.Entries(repo)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%d)\n", repo, len(entries))
		for _, e := range entries {
			fmt.Printf("  %s\n", e.Record)
		}
	}

	stats, err := calc.StoreStats()
	if err != nil {
		return err
	}
	fmt.Printf("Store reads: %d, writes: %d\n", stats.Reads, stats.Writes)
	return nil
}

func export(calc *branchpoints.Calculator, log *logrus.Logger, path string) error {
	ix, err := calc.Index()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := backup.NewManager(ix, log).BackupData(context.Background(), f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Exported to %s\n", path)
	return nil
}

func restore(calc *branchpoints.Calculator, log *logrus.Logger, path string) error {
	ix, err := calc.Index()
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	m := backup.NewManager(ix, log)
	if err := m.RestoreData(context.Background(), f); err != nil {
		return err
	}
	status, _ := m.GetBackupStatus(context.Background())
	fmt.Printf("Imported %d records.\n", status.LastRestoredRecords)
	return nil
}
