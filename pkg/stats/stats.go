package stats

import (
	"bufio"
	"context"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const (
	BYTE = 1 << (10 * iota)
	KILOBYTE
	MEGABYTE
	GIGABYTE
)

var (
	// RelayRequests counts the round trips made to the ohttp relay, labeled
	// by outcome (ok, unreachable, bad_status, breaker_open).
	RelayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payjoin",
			Name:      "relay_requests_total",
			Help:      "Round trips made to the ohttp relay",
		},
		[]string{"outcome"},
	)
	// Sessions counts the payjoin sessions, labeled by role and final status.
	Sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payjoin",
			Name:      "sessions_total",
			Help:      "Payjoin sessions by role and status",
		},
		[]string{"role", "status"},
	)
	// MailboxRequests counts the mailbox operations served by the
	// directory, labeled by op (read, write) and result (hit, empty, stored).
	MailboxRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payjoin",
			Name:      "directory_mailbox_requests_total",
			Help:      "Mailbox operations served by the directory",
		},
		[]string{"op", "result"},
	)
)

func init() {
	prometheus.MustRegister(RelayRequests, Sessions, MailboxRequests)
}

// EnableMemoryStatistics periodically logs memory usage of the process and
// dumps all the prometheus metrics to the given file when ctx is done.
func EnableMemoryStatistics(
	ctx context.Context, interval time.Duration, dumpPath string,
) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				PrintMemoryStatistics()
			case <-ctx.Done():
				if err := DumpPrometheusMetrics(dumpPath); err != nil {
					log.WithError(err).Warn("failed to dump prometheus metrics")
				}
				return
			}
		}
	}()
}

func toMegabytes(bytes uint64) float64 {
	return float64(bytes) / MEGABYTE
}

// PrintMemoryStatistics prints memory statistics using go runtime library.
func PrintMemoryStatistics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	log.Infof(
		"Heap allocated: %.3fMB, Total allocated: %.3fMB, Num of go routines: %d",
		toMegabytes(memStats.HeapAlloc),
		toMegabytes(memStats.TotalAlloc),
		runtime.NumGoroutine(),
	)
}

// DumpPrometheusMetrics appends all the gathered metrics to the given file.
func DumpPrometheusMetrics(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	writer := bufio.NewWriter(file)

	metricFamily, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	for _, v := range metricFamily {
		if _, err := writer.WriteString(v.String() + "\n"); err != nil {
			return err
		}
	}
	return writer.Flush()
}
