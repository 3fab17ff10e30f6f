// Package torrentutil holds stateless helpers around info hashes, magnet
// links and human readable transfer figures.
package torrentutil

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"torrentsession/internal/domain"
)

const (
	v1HashLen = 40
	v2HashLen = 64
)

// IsValidInfoHash reports whether s is a hex-encoded v1 (SHA-1) or v2
// (SHA-256) info hash.
func IsValidInfoHash(s string) bool {
	if len(s) != v1HashLen && len(s) != v2HashLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// CreateMagnetURI builds a magnet link for the given info hash. The display
// name is optional. v2 hashes are encoded as a sha2-256 multihash (btmh).
func CreateMagnetURI(infoHash, name string) (string, error) {
	if !IsValidInfoHash(infoHash) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidInfoHash, infoHash)
	}
	if len(infoHash) == v1HashLen {
		var h metainfo.Hash
		if err := h.FromHexString(infoHash); err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidInfoHash, err)
		}
		m := metainfo.Magnet{InfoHash: h, DisplayName: name}
		return m.String(), nil
	}

	uri := "magnet:?xt=urn:btmh:1220" + strings.ToLower(infoHash)
	if name != "" {
		uri += "&dn=" + url.QueryEscape(name)
	}
	return uri, nil
}

// ValidateMagnetURI performs the syntactic checks done before a magnet link
// is handed to the engine: magnet scheme and at least one exact topic.
func ValidateMagnetURI(uri string) error {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidMagnetLink, err)
	}
	if u.Scheme != "magnet" {
		return fmt.Errorf("%w: scheme %q", domain.ErrInvalidMagnetLink, u.Scheme)
	}
	xts := u.Query()["xt"]
	if len(xts) == 0 {
		return fmt.Errorf("%w: missing xt", domain.ErrInvalidMagnetLink)
	}
	for _, xt := range xts {
		if strings.HasPrefix(xt, "urn:btih:") || strings.HasPrefix(xt, "urn:btmh:") {
			return nil
		}
	}
	return fmt.Errorf("%w: unsupported xt %q", domain.ErrInvalidMagnetLink, xts[0])
}
