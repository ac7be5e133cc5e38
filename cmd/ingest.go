package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/cobra"

	"github.com/camden-git/framearchive/realtime"
	"github.com/camden-git/framearchive/utils"
	"github.com/camden-git/framearchive/workers"
)

var ingestWorkers int

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Ingest local FITS files into the archive",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(realtime.Discard)
		if err != nil {
			return err
		}
		defer a.Close()

		workerCount := ingestWorkers
		if workerCount <= 0 {
			workerCount = a.cfg.IngestWorkers
		}

		files, err := expandFiles(args)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no FITS files found")
		}

		var mu sync.Mutex
		var failed []workers.IngestResult
		created := 0
		out := cmd.OutOrStdout()

		pool := workers.NewIngestPool(commandContext(cmd), a.ingest, len(files), workerCount, func(r workers.IngestResult) {
			mu.Lock()
			defer mu.Unlock()
			if r.Err != nil {
				failed = append(failed, r)
				return
			}
			created++
			fmt.Fprintf(out, "%s -> %s\n", r.Path, r.Basename)
		})
		skipped := 0
		for _, f := range files {
			if !pool.QueueJob(f) {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: not queued\n", f)
				skipped++
			}
		}
		pool.Drain()

		sort.Slice(failed, func(i, j int) bool { return failed[i].Path < failed[j].Path })
		for _, r := range failed {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", r.Path, r.Err)
		}
		fmt.Fprintf(out, "ingested %d of %d files\n", created, len(files))
		if len(failed)+skipped > 0 {
			return fmt.Errorf("%d files failed, %d not queued", len(failed), skipped)
		}
		return nil
	},
}

// expandFiles replaces directories by the FITS files they contain. a file
// reached more than once is listed only the first time.
func expandFiles(args []string) ([]string, error) {
	var files []string
	seen := map[string]bool{}
	add := func(path string) {
		key := filepath.Clean(path)
		if abs, err := filepath.Abs(key); err == nil {
			key = abs
		}
		if !seen[key] {
			seen[key] = true
			files = append(files, path)
		}
	}
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && utils.IsFitsFile(path) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func init() {
	ingestCmd.Flags().IntVarP(&ingestWorkers, "workers", "w", 0, "number of parallel ingest workers (default from config)")
	rootCmd.AddCommand(ingestCmd)
}
