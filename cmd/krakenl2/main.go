// Command krakenl2 is a thin runnable wrapper around internal/ingestclient's
// BookL2Client: parse flags, resolve pairs, stream L2 book updates to JSONL
// until interrupted. The argument surface itself is not a spec'd component;
// see SPEC_FULL.md §6.
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
	"github.com/kdepth/krakenfeed/internal/wire"
	"github.com/kdepth/krakenfeed/internal/writer"
)

func main() {
	app := &cli.App{
		Name:  "krakenl2",
		Usage: "stream Kraken L2 order-book updates to JSONL",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pairs", Aliases: []string{"p"}, Required: true, Usage: "pairs specification, see internal/pairs"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "book_l2.jsonl", Usage: "output JSONL file"},
			&cli.IntFlag{Name: "flush-interval", Aliases: []string{"f"}, Value: 30, Usage: "flush interval in seconds"},
			&cli.Int64Flag{Name: "memory-threshold", Aliases: []string{"m"}, Value: 10 * 1024 * 1024, Usage: "flush once buffered bytes exceed this"},
			&cli.BoolFlag{Name: "hourly", Usage: "rotate output hourly"},
			&cli.BoolFlag{Name: "daily", Usage: "rotate output daily"},
			&cli.IntFlag{Name: "depth", Aliases: []string{"d"}, Value: 10, Usage: "subscription depth: 10, 25, 100, 500, or 1000"},
			&cli.BoolFlag{Name: "separate-files", Usage: "write one output file per symbol"},
			&cli.BoolFlag{Name: "skip-validation", Usage: "do not verify announced checksums"},
			&cli.BoolFlag{Name: "show-updates", Aliases: []string{"v"}, Usage: "print each update to stdout"},
			&cli.BoolFlag{Name: "show-top", Usage: "print best bid/ask after each update"},
			&cli.BoolFlag{Name: "show-book", Usage: "print the full book after each update"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var validDepths = map[int]bool{10: true, 25: true, 100: true, 500: true, 1000: true}

func run(c *cli.Context) error {
	if c.Bool("hourly") && c.Bool("daily") {
		return cli.Exit("--hourly and --daily are mutually exclusive", 1)
	}
	if !validDepths[c.Int("depth")] {
		return cli.Exit(fmt.Errorf("invalid depth %d: must be one of 10, 25, 100, 500, 1000", c.Int("depth")), 1)
	}

	symbols, err := pairs.Parse(c.String("pairs"))
	if err != nil {
		return cli.Exit(fmt.Errorf("pairs: %w", err), 1)
	}

	client := ingestclient.NewBookL2Client(c.Int("depth"))
	client.SetErrorCallback(func(err error) {
		klog.Warnf(klog.WebsocketMgr, "%v", err)
	})
	client.SetSkipValidation(c.Bool("skip-validation"))

	var mw *writer.MultiFileBookL2JSONLWriter
	if c.Bool("separate-files") {
		mw = writer.NewMultiFileBookL2JSONLWriter(c.String("output"), false)
		mw.SetFlushInterval(time.Duration(c.Int("flush-interval")) * time.Second)
		mw.SetMemoryThreshold(c.Int64("memory-threshold"))
		defer mw.Close()
	} else {
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
	}

	client.SetUpdateCallback(displayAndFanOutCallback(c, client, mw))

	if err := client.Start(symbols); err != nil {
		return cli.Exit(err, 1)
	}
	waitForSignal()
	return client.Stop()
}

// displayAndFanOutCallback composes the optional --separate-files fan-out
// write with the optional --show-* stdout diagnostics into one update
// callback, since BookL2Client supports only one registered callback.
func displayAndFanOutCallback(c *cli.Context, client *ingestclient.BookL2Client, mw *writer.MultiFileBookL2JSONLWriter) ingestclient.BookL2UpdateCallback {
	showUpdates := c.Bool("show-updates")
	showTop := c.Bool("show-top")
	showBook := c.Bool("show-book")

	return func(rec wire.BookL2Record) {
		if mw != nil {
			if err := mw.WriteRecord(rec); err != nil {
				klog.Warnf(klog.WriterMgr, "%v", err)
			}
		}
		if !showUpdates && !showTop && !showBook {
			return
		}
		if showUpdates {
			fmt.Printf("%s %s %s bids=%d asks=%d\n", rec.Timestamp, rec.Symbol, rec.Kind, len(rec.Bids), len(rec.Asks))
		}
		book := client.Book(rec.Symbol)
		if book == nil {
			return
		}
		if showTop {
			bid, bidOK := book.BestBid()
			ask, askOK := book.BestAsk()
			if bidOK && askOK {
				fmt.Printf("%s best_bid=%s@%s best_ask=%s@%s\n", rec.Symbol, bid.Qty, bid.Price, ask.Qty, ask.Price)
			}
		}
		if showBook {
			fmt.Printf("%s bids=%v asks=%v\n", rec.Symbol, book.Bids(), book.Asks())
		}
	}
}

func waitForSignal() {
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	<-sigC
}
