package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/your-org/dca-drawdown-sim/pkg/logger"
	"github.com/your-org/dca-drawdown-sim/pkg/ring"
)

const followPoll = 500 * time.Millisecond

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var (
		lines  int
		follow bool
		date   string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daily JSON log of the simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day := time.Now()
			if date != "" {
				d, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid --date %q: %w", date, err)
				}
				day = d
			}
			path := logger.DailyFile(opts.cfg.LogDir(), day)
			out := cmd.OutOrStdout()

			offset, err := tailFile(out, path, lines)
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) || !follow {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Waiting for %s\n", path)
			}
			if !follow {
				return nil
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return followFile(ctx, out, path, offset, followPoll)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print (0 for all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing lines as they are appended")
	cmd.Flags().StringVar(&date, "date", "", "Day of the log file (YYYY-MM-DD), defaults to today")
	return cmd
}

// tailFile writes the last n complete lines of path to out and returns the
// offset just past them. n <= 0 writes the whole file.
func tailFile(out io.Writer, path string, n int) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	var offset int64
	var all []string
	var last *ring.RingBuffer[string]
	if n > 0 {
		last = ring.NewRingBuffer[string](n)
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				// A partial last line is left for follow mode.
				break
			}
			return offset, err
		}
		offset += int64(len(line))
		if last != nil {
			last.Add(line)
		} else {
			all = append(all, line)
		}
	}
	if last != nil {
		all = last.Chronological()
	}
	for _, line := range all {
		if _, err := io.WriteString(out, line); err != nil {
			return offset, err
		}
	}
	return offset, nil
}

// followFile polls path and writes complete lines appended after offset
// until ctx is done. A file that shrinks is read again from the start.
func followFile(ctx context.Context, out io.Writer, path string, offset int64, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	var pending []byte
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if info.Size() < offset {
			offset, pending = 0, nil
		}
		if info.Size() == offset {
			continue
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		data := make([]byte, info.Size()-offset)
		n, err := f.ReadAt(data, offset)
		f.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		offset += int64(n)
		pending = append(pending, data[:n]...)

		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			if _, err := out.Write(pending[:i+1]); err != nil {
				return err
			}
			pending = pending[i+1:]
		}
	}
}
