package vm

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
)

var fetchLog = commonlog.GetLogger("nlbc.fetch")

// fetchMeta is the sidecar record stored next to each cached body.
type fetchMeta struct {
	URL       string `cbor:"url"`
	FetchedAt int64  `cbor:"fetched_at"` // unix seconds
	Size      int64  `cbor:"size"`
}

// fetcher serves IMPORTURL and ASYNC_HTTPGET. Local paths are read
// directly; http(s) URLs go through the network gate and a
// content-addressed on-disk cache so a module imported twice is fetched
// once.
type fetcher struct {
	dir  string
	host *hostIO
	enc  cbor.EncMode
}

func newFetcher(dir string, host *hostIO) *fetcher {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = filepath.Join(home, ".nlbc", "cache")
		}
	}
	enc, _ := cbor.CanonicalEncOptions().EncMode()
	return &fetcher{dir: dir, host: host, enc: enc}
}

func isRemote(url string) bool {
	return len(url) > 7 && (url[:7] == "http://" || (len(url) > 8 && url[:8] == "https://"))
}

func (f *fetcher) fetch(url string) (string, error) {
	if !isRemote(url) {
		return f.host.readFile(url)
	}
	if err := f.host.netGate(); err != nil {
		return "", err
	}
	if body, ok := f.cached(url); ok {
		fetchLog.Debugf("cache hit for %s", url)
		return body, nil
	}
	body, err := f.host.httpGet(url)
	if err != nil {
		return "", err
	}
	f.store(url, body)
	return body, nil
}

func (f *fetcher) key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (f *fetcher) cached(url string) (string, bool) {
	if f.dir == "" {
		return "", false
	}
	body, err := os.ReadFile(filepath.Join(f.dir, f.key(url)+".txt"))
	if err != nil {
		return "", false
	}
	return string(body), true
}

// store writes the body and a canonical CBOR metadata sidecar. Cache
// writes are advisory; a failure only costs a refetch later.
func (f *fetcher) store(url, body string) {
	if f.dir == "" {
		return
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		fetchLog.Errorf("create cache dir %s: %v", f.dir, err)
		return
	}
	key := f.key(url)
	if err := os.WriteFile(filepath.Join(f.dir, key+".txt"), []byte(body), 0o644); err != nil {
		fetchLog.Errorf("cache %s: %v", url, err)
		return
	}
	meta := fetchMeta{URL: url, FetchedAt: time.Now().Unix(), Size: int64(len(body))}
	encoded, err := f.enc.Marshal(meta)
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(f.dir, key+".meta"), encoded, 0o644); err != nil {
		fetchLog.Errorf("cache metadata %s: %v", url, err)
	}
}

// cachedMeta reads back a sidecar, mostly for tooling and tests.
func (f *fetcher) cachedMeta(url string) (fetchMeta, bool) {
	var meta fetchMeta
	if f.dir == "" {
		return meta, false
	}
	data, err := os.ReadFile(filepath.Join(f.dir, f.key(url)+".meta"))
	if err != nil {
		return meta, false
	}
	if err := cbor.Unmarshal(data, &meta); err != nil {
		return meta, false
	}
	return meta, true
}
