package custody

import (
	"encoding/json"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/sharding-experiment/slotvault/internal/protocol"
)

// DefaultSentCacheBytes bounds the table of outstanding releases.
// fastcache rounds anything smaller up to 32 MB.
const DefaultSentCacheBytes = 32 * 1024 * 1024

// sentReleases remembers releases this controller sent so that a bounce can
// be matched to the release it reports. Entries are dropped once matched, and
// the oldest are dropped when the cache is full.
type sentReleases struct {
	cache *fastcache.Cache
}

func newSentReleases(maxBytes int) *sentReleases {
	if maxBytes <= 0 {
		maxBytes = DefaultSentCacheBytes
	}
	return &sentReleases{cache: fastcache.New(maxBytes)}
}

// remember stores rel without its payload. A bounce only needs the release
// identity, and fastcache drops entries larger than 64 KB.
func (s *sentReleases) remember(rel protocol.Release) {
	rel.Payload = nil
	data, err := json.Marshal(rel)
	if err != nil {
		return
	}
	s.cache.Set([]byte(rel.ID), data)
}

func (s *sentReleases) lookup(id string) (protocol.Release, bool) {
	data, ok := s.cache.HasGet(nil, []byte(id))
	if !ok {
		return protocol.Release{}, false
	}
	var rel protocol.Release
	if err := json.Unmarshal(data, &rel); err != nil {
		return protocol.Release{}, false
	}
	return rel, true
}

func (s *sentReleases) forget(id string) {
	s.cache.Del([]byte(id))
}

func (s *sentReleases) reset() {
	s.cache.Reset()
}
