// Package cache stores optimization results by fingerprint so identical
// requests do not reach a backend twice.
package cache

import (
	"context"
	"encoding/binary"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

// Cache is the read/write contract used by the orchestrator. Put always
// overwrites; the last write for a key wins.
type Cache interface {
	Get(ctx context.Context, key string) (models.OptimizationResult, bool, error)
	Put(ctx context.Context, key string, result models.OptimizationResult) error
}

// Fingerprint derives the cache key for a script evaluated against a screen
// context. Both parts are length-prefixed so ("ab","c") and ("a","bc") differ.
func Fingerprint(script string, ctx *models.ScreenContext) string {
	h := xxhash.New()
	writePart(h, script)
	writePart(h, ctx.Identity())
	return strconv.FormatUint(h.Sum64(), 16)
}

func writePart(h *xxhash.Digest, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	_, _ = h.Write(n[:])
	_, _ = h.WriteString(s)
}
