//go:build ignore

// Run: go run ./build-tools/loadgen.go -pair BTC/USD -rps 1000 -duration 30s -traders 16

package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"

	"dexos/internal/book"
	"dexos/internal/domain"
)

func main() {
	var (
		pairFlag = flag.String("pair", "BTC/USD", "trading pair")
		rps      = flag.Int("rps", 1000, "orders per second target")
		duration = flag.Duration("duration", 30*time.Second, "how long to run")
		traders  = flag.Int("traders", 16, "distinct trader ids")
		mid      = flag.Uint64("mid", 50_000, "mid price in base units")
		spread   = flag.Uint64("spread", 200, "half-spread for limit prices")
	)
	flag.Parse()

	pair, err := domain.ParsePair(*pairFlag)
	if err != nil {
		fmt.Println("bad pair:", err)
		os.Exit(1)
	}

	lg := logger.New(lgcfg.LoggerCfg{Level: "info", Format: "console"})
	b := book.NewBook(lg, book.Config{Pair: pair}, nil, nil)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*rps))
	defer ticker.Stop()
	deadline := time.After(*duration)

	var (
		orderID  uint64
		accepted int
		trades   int
	)

loop:
	for {
		select {
		case <-stop:
			break loop
		case <-deadline:
			break loop
		case <-ticker.C:
			orderID++
			o := domain.Order{
				ID:       orderID,
				TraderID: fmt.Sprintf("trader-%d", rand.Intn(*traders)),
				Pair:     pair,
				Quantity: uint64(1 + rand.Intn(100)),
			}
			if rand.Intn(2) == 0 {
				o.Side = domain.SideBuy
			} else {
				o.Side = domain.SideSell
			}
			if rand.Intn(10) == 0 {
				o.Kind = domain.KindMarket
			} else {
				o.Kind = domain.KindLimit
				o.Price = *mid - *spread + uint64(rand.Int63n(int64(2**spread+1)))
			}

			ts, _, err := b.Submit(o)
			if err != nil {
				continue
			}
			accepted++
			trades += len(ts)
		}
	}

	snap := b.Depth(10)
	fmt.Printf("accepted=%d trades=%d batch=%d bids=%d asks=%d\n",
		accepted, trades, b.BatchLen(), len(snap.Bids), len(snap.Asks))
	fmt.Printf("batch root=%x\n", b.BatchCommit())
}
