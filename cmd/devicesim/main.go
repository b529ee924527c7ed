// devicesim drives a running sync API with simulated devices. Several
// devices share one user id and submit concurrently, which exercises the
// version-conflict path; results are verified by refetching the server's
// summaries at the end.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vocabsync/internal/caldate"
	"vocabsync/internal/logging"
	"vocabsync/internal/syncclient"
	"vocabsync/internal/syncqueue"
)

func main() {
	baseURL := flag.String("base-url", "http://localhost:8080", "sync API base URL")
	userID := flag.String("user", "devicesim_user", "user id shared by all devices")
	devices := flag.Int("devices", 4, "number of concurrent devices")
	sessions := flag.Int("sessions", 25, "sessions per device")
	tz := flag.String("tz", "Asia/Shanghai", "canonical timezone (must match the server)")
	flag.Parse()

	log := logging.New(false)
	defer log.Sync()

	cal, err := caldate.New(*tz)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad timezone: %v\n", err)
		os.Exit(1)
	}

	var (
		delivered int64
		queued    int64
		conflicts int64
		failures  int64
	)

	queueDir, err := os.MkdirTemp("", "devicesim")
	if err != nil {
		fmt.Fprintf(os.Stderr, "temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(queueDir)

	start := time.Now()
	var wg sync.WaitGroup
	clients := make([]*syncclient.Client, *devices)

	for i := 0; i < *devices; i++ {
		queue, err := syncqueue.Open(
			filepath.Join(queueDir, fmt.Sprintf("device_%d.db", i)),
			syncqueue.DefaultPolicy(), log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open queue: %v\n", err)
			os.Exit(1)
		}
		defer queue.Close()

		clients[i] = syncclient.New(*baseURL, *userID, queue, cal, log)

		wg.Add(1)
		go func(c *syncclient.Client, device int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(device)))
			ctx := context.Background()

			for s := 0; s < *sessions; s++ {
				testCount := rng.Intn(20) + 1
				correct := rng.Intn(testCount + 1)
				points := float64(correct) * 2.5

				result, err := c.SubmitResult(ctx, testCount, correct, points)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				if result.Resolution == syncclient.ResolutionOptimistic {
					atomic.AddInt64(&queued, 1)
				} else {
					atomic.AddInt64(&delivered, 1)
				}
				if result.ConflictDetected {
					atomic.AddInt64(&conflicts, 1)
				}
			}

			// Flush anything that had to be queued.
			if res, err := c.ProcessPending(ctx); err == nil {
				atomic.AddInt64(&delivered, int64(res.Succeeded))
				atomic.AddInt64(&failures, int64(res.Failed))
				atomic.AddInt64(&queued, -int64(res.Succeeded+res.Failed))
			}
		}(clients[i], i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Every device should converge on the same server view.
	ctx := context.Background()
	today := cal.Today()
	if err := clients[0].Refresh(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "refresh: %v\n", err)
		os.Exit(1)
	}
	final, _ := clients[0].Summary(today)

	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("DEVICE SIMULATION RESULTS")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Devices:            %d\n", *devices)
	fmt.Printf("Sessions submitted: %d\n", (*devices)*(*sessions))
	fmt.Printf("Delivered:          %d\n", delivered)
	fmt.Printf("Still queued:       %d\n", queued)
	fmt.Printf("Conflicts resolved: %d\n", conflicts)
	fmt.Printf("Failures:           %d\n", failures)
	fmt.Printf("Elapsed:            %v\n", elapsed)
	fmt.Printf("Server summary %s: total=%d correct=%d points=%.1f version=%d\n",
		today, final.TotalCount, final.CorrectCount, final.TotalPoints, final.Version)
}
