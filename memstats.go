package onecode

import (
	"log/slog"
	"math"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// Usage reports a point-in-time read of the process's heap use.
type Usage struct {
	HeapAlloc uint64 // bytes currently allocated and in use
	HeapSys   uint64 // bytes obtained from the OS for the heap
	PeakAlloc uint64 // largest HeapAlloc ever observed by MemStats in this process
}

var peakAlloc uint64

// MemStats samples runtime.MemStats and returns the current and peak heap
// usage observed so far. Within this module only the ONECODE_MEMLOG ticker
// (startMemLog) calls it.
func MemStats() Usage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.HeapAlloc > peakAlloc {
		peakAlloc = m.HeapAlloc
	}
	return Usage{HeapAlloc: m.HeapAlloc, HeapSys: m.HeapSys, PeakAlloc: peakAlloc}
}

var memLogInterval = calcMemLogInterval()

func calcMemLogInterval() time.Duration {
	e := os.Getenv("ONECODE_MEMLOG")
	if e == "" {
		return 0
	}
	f, err := strconv.ParseFloat(e, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		panic("malformed ONECODE_MEMLOG environment variable, should be a number of seconds: " + e)
	}
	return time.Duration(f * float64(time.Second))
}

var memLogOnce sync.Once

// startMemLog begins periodic "memstat" slog lines if ONECODE_MEMLOG names a
// positive interval. It is a no-op on every call after the first, since one
// background ticker per process is enough.
func startMemLog(logger *slog.Logger) {
	if memLogInterval <= 0 {
		return
	}
	memLogOnce.Do(func() {
		go func() {
			for range time.Tick(memLogInterval) {
				u := MemStats()
				logger.Info("memstat", "heapAlloc", u.HeapAlloc, "heapSys", u.HeapSys, "peakAlloc", u.PeakAlloc)
			}
		}()
	})
}
