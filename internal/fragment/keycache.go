package fragment

import (
	"container/list"
	"context"
	"sync"

	"github.com/streamcore/corestream/internal/corestreamerrors"
	"github.com/streamcore/corestream/internal/transport"
)

// DefaultKeyCacheSize bounds the URL->16-byte-key LRU.
const DefaultKeyCacheSize = 4096

// KeyCache is a URL -> 16-byte-key LRU, grounded on
// internal/relay/connection_pool.go's bounded-map-with-mutex shape.
type KeyCache struct {
	mu       sync.Mutex
	cap      int
	ll       *list.List
	index    map[string]*list.Element
	download transport.Downloader
}

type keyEntry struct {
	uri string
	key []byte
}

// NewKeyCache builds a KeyCache bounded at capacity entries, fetching
// misses through downloader.
func NewKeyCache(downloader transport.Downloader, capacity int) *KeyCache {
	if capacity <= 0 {
		capacity = DefaultKeyCacheSize
	}
	return &KeyCache{
		cap:      capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
		download: downloader,
	}
}

// Get returns the 16-byte AES key for keyURI, fetching and caching it on
// first use. allowCache (EXT-X-ALLOW-CACHE) disables caching entirely
// when false — the key is fetched fresh every time but still validated.
// Fails with KeyFetchFailed on a download error and InvalidKey on a
// short key.
func (c *KeyCache) Get(ctx context.Context, keyURI string, allowCache bool) ([]byte, error) {
	if allowCache {
		c.mu.Lock()
		if el, ok := c.index[keyURI]; ok {
			c.ll.MoveToFront(el)
			key := el.Value.(*keyEntry).key
			c.mu.Unlock()
			return key, nil
		}
		c.mu.Unlock()
	}

	body, _, err := c.download.Get(ctx, keyURI)
	if err != nil {
		return nil, corestreamerrors.Wrap(corestreamerrors.KeyFetchFailed, "fragment", "E100", "fetching AES-128 key", err)
	}
	defer body.Close()

	buf := make([]byte, 17)
	n := 0
	for n < len(buf) {
		m, rerr := body.Read(buf[n:])
		n += m
		if rerr != nil {
			break
		}
	}
	if n < 16 {
		return nil, corestreamerrors.New(corestreamerrors.InvalidKey, "fragment", "E101", "AES key shorter than 16 bytes")
	}
	key := append([]byte(nil), buf[:16]...)

	if allowCache {
		c.put(keyURI, key)
	}
	return key, nil
}

func (c *KeyCache) put(uri string, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[uri]; ok {
		el.Value.(*keyEntry).key = key
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&keyEntry{uri: uri, key: key})
	c.index[uri] = el
	if c.ll.Len() > c.cap {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.index, oldest.Value.(*keyEntry).uri)
		}
	}
}
