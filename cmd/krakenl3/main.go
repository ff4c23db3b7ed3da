// Command krakenl3 is a thin runnable wrapper around internal/ingestclient's
// BookL3Client: parse flags, resolve pairs and an auth token, stream L3 order
// events to JSONL until interrupted. The argument surface itself is not a
// spec'd component; see SPEC_FULL.md §6.
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
		Name:  "krakenl3",
		Usage: "stream Kraken L3 order-book events to JSONL",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pairs", Aliases: []string{"p"}, Required: true, Usage: "pairs specification, see internal/pairs"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "book_l3.jsonl", Usage: "output JSONL file"},
			&cli.IntFlag{Name: "flush-interval", Aliases: []string{"f"}, Value: 30, Usage: "flush interval in seconds"},
			&cli.Int64Flag{Name: "memory-threshold", Aliases: []string{"m"}, Value: 10 * 1024 * 1024, Usage: "flush once buffered bytes exceed this"},
			&cli.BoolFlag{Name: "hourly", Usage: "rotate output hourly"},
			&cli.BoolFlag{Name: "daily", Usage: "rotate output daily"},
			&cli.StringFlag{Name: "token", Usage: "explicit auth token (highest precedence)"},
			&cli.StringFlag{Name: "token-file", Usage: "path to a file containing the auth token"},
			&cli.IntFlag{Name: "depth", Aliases: []string{"d"}, Value: 10, Usage: "subscription depth: 10, 100, or 1000"},
			&cli.BoolFlag{Name: "separate-files", Usage: "write one output file per symbol"},
			&cli.BoolFlag{Name: "show-events", Aliases: []string{"v"}, Usage: "print each order event to stdout"},
			&cli.BoolFlag{Name: "show-top", Usage: "print best bid/ask after each update"},
			&cli.BoolFlag{Name: "show-orders", Usage: "print the resting order list after each update"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var validDepths = map[int]bool{10: true, 100: true, 1000: true}

func run(c *cli.Context) error {
	if c.Bool("hourly") && c.Bool("daily") {
		return cli.Exit("--hourly and --daily are mutually exclusive", 1)
	}
	if !validDepths[c.Int("depth")] {
		return cli.Exit(fmt.Errorf("invalid depth %d: must be one of 10, 100, 1000", c.Int("depth")), 1)
	}

	symbols, err := pairs.Parse(c.String("pairs"))
	if err != nil {
		return cli.Exit(fmt.Errorf("pairs: %w", err), 1)
	}

	client := ingestclient.NewBookL3Client(c.Int("depth"))
	client.SetErrorCallback(func(err error) {
		klog.Warnf(klog.WebsocketMgr, "%v", err)
	})

	// Token precedence: explicit > file > env (§4.7). SetTokenFromFile and
	// SetTokenFromEnv are no-ops once any token is set and SetToken always
	// overwrites, so the order below (file, then env, then explicit) is
	// what produces that precedence.
	if t := c.String("token-file"); t != "" {
		if err := client.SetTokenFromFile(t); err != nil {
			return cli.Exit(err, 1)
		}
	}
	client.SetTokenFromEnv()
	if t := c.String("token"); t != "" {
		client.SetToken(t)
	}

	var mw *writer.MultiFileBookL3JSONLWriter
	if c.Bool("separate-files") {
		mw = writer.NewMultiFileBookL3JSONLWriter(c.String("output"), false)
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
// callback, since BookL3Client supports only one registered callback.
func displayAndFanOutCallback(c *cli.Context, client *ingestclient.BookL3Client, mw *writer.MultiFileBookL3JSONLWriter) ingestclient.BookL3UpdateCallback {
	showEvents := c.Bool("show-events")
	showTop := c.Bool("show-top")
	showOrders := c.Bool("show-orders")

	return func(rec wire.BookL3Record) {
		if mw != nil {
			if err := mw.WriteRecord(rec); err != nil {
				klog.Warnf(klog.WriterMgr, "%v", err)
			}
		}
		if !showEvents && !showTop && !showOrders {
			return
		}
		if showEvents {
			fmt.Printf("%s %s %s bids=%d asks=%d\n", rec.Timestamp, rec.Symbol, rec.Kind, len(rec.Bids), len(rec.Asks))
		}
		book := client.Book(rec.Symbol)
		if book == nil {
			return
		}
		if showTop {
			bidPrice, bidQty, bidOK := book.BestBid()
			askPrice, askQty, askOK := book.BestAsk()
			if bidOK && askOK {
				fmt.Printf("%s best_bid=%s@%s best_ask=%s@%s\n", rec.Symbol, bidQty, bidPrice, askQty, askPrice)
			}
		}
		if showOrders {
			fmt.Printf("%s resting_orders=%d\n", rec.Symbol, book.OrderCount())
		}
	}
}

func waitForSignal() {
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	<-sigC
}
