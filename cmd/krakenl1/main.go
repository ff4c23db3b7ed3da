// Command krakenl1 is a thin runnable wrapper around internal/ingestclient's
// TickerClient: parse flags, resolve pairs, stream to CSV until interrupted.
// The argument surface itself is not a spec'd component; see SPEC_FULL.md §6.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/kdepth/krakenfeed/internal/ingestclient"
	"github.com/kdepth/krakenfeed/internal/klog"
	"github.com/kdepth/krakenfeed/internal/pairs"
	"github.com/kdepth/krakenfeed/internal/writer"
)

func main() {
	app := &cli.App{
		Name:  "krakenl1",
		Usage: "stream Kraken ticker updates to CSV",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pairs", Aliases: []string{"p"}, Required: true, Usage: "pairs specification, see internal/pairs"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "ticker.csv", Usage: "output CSV file"},
			&cli.IntFlag{Name: "flush-interval", Aliases: []string{"f"}, Value: 30, Usage: "flush interval in seconds"},
			&cli.Int64Flag{Name: "memory-threshold", Aliases: []string{"m"}, Value: 10 * 1024 * 1024, Usage: "flush once buffered bytes exceed this"},
			&cli.BoolFlag{Name: "hourly", Usage: "rotate output hourly"},
			&cli.BoolFlag{Name: "daily", Usage: "rotate output daily"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.Bool("hourly") && c.Bool("daily") {
		return cli.Exit("--hourly and --daily are mutually exclusive", 1)
	}

	symbols, err := pairs.Parse(c.String("pairs"))
	if err != nil {
		return cli.Exit(fmt.Errorf("pairs: %w", err), 1)
	}

	client := ingestclient.NewTickerClient()
	if err := client.SetOutputFile(c.String("output")); err != nil {
		return cli.Exit(err, 1)
	}
	client.SetFlushInterval(time.Duration(c.Int("flush-interval")) * time.Second)
	client.SetMemoryThreshold(c.Int64("memory-threshold"))
	switch {
	case c.Bool("hourly"):
		client.SetSegmentMode(writer.SegmentHourly)
	case c.Bool("daily"):
		client.SetSegmentMode(writer.SegmentDaily)
	}
	client.SetErrorCallback(func(err error) {
		klog.Warnf(klog.WebsocketMgr, "%v", err)
	})

	if err := client.Start(symbols); err != nil {
		return cli.Exit(err, 1)
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	<-sigC

	return client.Stop()
}
