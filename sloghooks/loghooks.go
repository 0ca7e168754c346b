// Package sloghooks reports tiercache events to a *slog.Logger.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	LookupEvery   uint64
	EvictEvery    uint64
	SelfHealEvery uint64
	// Lookups are only logged when true; they fire on every Get.
	LogLookups bool
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	lookupCtr   atomic.Uint64
	evictCtr    atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Lookup(ns string, status tiercache.Status) {
	if h.l == nil || !h.opts.LogLookups || !sample(h.opts.LookupEvery, &h.lookupCtr) {
		return
	}
	h.l.Debug("tiercache.lookup", "ns", ns, "status", status.String())
}

func (h *Hooks) Evicted(ns, key string, reason tiercache.EvictReason) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("tiercache.evicted",
		"ns", ns,
		"key", h.redact(key),
		"reason", string(reason))
}

func (h *Hooks) PersistFailed(ns, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.persist_failed",
		"ns", ns,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) PersistDropped(ns, key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.persist_dropped",
		"ns", ns,
		"key", h.redact(key))
}

func (h *Hooks) StoreReadFailed(ns, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.store_read_failed",
		"ns", ns,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) SelfHeal(ns, key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Info("tiercache.self_heal",
		"ns", ns,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) Resolved(ns string, outcome tiercache.Outcome) {
	if h.l == nil {
		return
	}
	switch outcome {
	case tiercache.OutcomeUnavailable:
		h.l.Error("tiercache.unavailable", "ns", ns)
	case tiercache.OutcomeStaleFailed, tiercache.OutcomeFallback:
		h.l.Warn("tiercache.degraded", "ns", ns, "outcome", string(outcome))
	}
}
