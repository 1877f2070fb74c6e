package coordinator

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/poecap/poe/nativering"
	"github.com/poecap/poe/store"
)

// envRTPath and envRTCapacity are the env vars spec.md §6 defines for an
// instrumented runtime to tell the coordinator where to find the external
// instrumentation ring it is writing into, and how large it was sized.
const (
	envRTPath     = "_POE_RT_PATH"
	envRTCapacity = "_POE_RT_CAPACITY"
)

// nativeRingHandle owns the optional external instrumentation ring's
// lifecycle: opened (if present) alongside the rest of the run, polled on a
// ticker into the store until the run ends, mirroring samplerHandle's
// attach/drain/stop shape.
type nativeRingHandle struct {
	ring  *nativering.Ring
	store *store.Store

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// attachNativeRing opens the ring named by envRTPath in env, if present. A
// missing path is not an error: most runs carry no native instrumentation.
// A present but unopenable ring is logged and skipped, the same degrade-
// gracefully policy samplerHandle.attach applies to perf_event_open.
func attachNativeRing(env []string, st *store.Store) *nativeRingHandle {
	path := envValue(env, envRTPath)
	if path == "" {
		return nil
	}

	ring, err := nativering.Open(path)
	if err != nil {
		log.WithError(err).Warn("native ring open failed, running without native instrumentation")
		return nil
	}

	if want := envValue(env, envRTCapacity); want != "" {
		if n, err := strconv.ParseUint(want, 10, 32); err == nil && uint32(n) != ring.Capacity() {
			log.WithFields(logrus.Fields{"want": n, "got": ring.Capacity()}).Warn("native ring capacity mismatch")
		}
	}

	h := &nativeRingHandle{ring: ring, store: st, stopCh: make(chan struct{})}
	h.wg.Add(1)
	go h.run()
	return h
}

func (h *nativeRingHandle) run() {
	defer h.wg.Done()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var pos uint64
	drain := func() {
		wp := h.ring.WritePos()
		for _, rec := range h.ring.DrainSince(pos, wp) {
			h.store.InsertNative(rec)
		}
		pos = wp
	}

	for {
		select {
		case <-ticker.C:
			drain()
		case <-h.stopCh:
			drain()
			return
		}
	}
}

// stop is safe to call on a nil handle (no ring was configured) and
// idempotent, since coordinator.Run calls it explicitly before the deferred
// call also runs on return.
func (h *nativeRingHandle) stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.wg.Wait()
		if err := h.ring.Close(); err != nil {
			log.WithError(err).Warn("native ring close failed")
		}
	})
}

func envValue(env []string, key string) string {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):]
		}
	}
	return ""
}
