package anacrolix

import (
	"net"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"
	"golang.org/x/time/rate"

	"torrentsession/internal/domain"
)

// minLimiterBurst must hold at least one request chunk (16 KiB) with room
// for several; a burst below the read size makes the limiter reject reads.
const minLimiterBurst = 256 << 10

// clientConfig maps a session configuration onto anacrolix client settings.
// Only the first listen interface is used; anacrolix binds a single port.
func clientConfig(cfg domain.SessionConfiguration, dataDir string) (*torrent.ClientConfig, *rate.Limiter, *rate.Limiter, error) {
	addrs, err := cfg.ListenAddrs()
	if err != nil {
		return nil, nil, nil, err
	}
	listen := addrs[0]

	cc := torrent.NewDefaultClientConfig()
	cc.DataDir = dataDir
	cc.DefaultStorage = storage.NewFileOpts(storage.NewFileClientOpts{
		ClientBaseDir:   dataDir,
		PieceCompletion: storage.NewMapPieceCompletion(),
	})
	cc.Seed = true
	cc.ListenPort = listen.Port
	if host := listen.Host; !isWildcard(host) {
		cc.ListenHost = func(string) string { return host }
		if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
			cc.DisableIPv6 = true
		}
	}
	cc.NoDHT = !cfg.EnableDHT
	cc.NoDefaultPortForwarding = !(cfg.EnableUPnP || cfg.EnableNATPMP)
	cc.EstablishedConnsPerTorrent = cfg.MaxConnections

	down := rate.NewLimiter(rate.Inf, 0)
	up := rate.NewLimiter(rate.Inf, 0)
	tuneLimiter(down, cfg.DownloadRateLimit)
	tuneLimiter(up, cfg.UploadRateLimit)
	cc.DownloadRateLimiter = down
	cc.UploadRateLimiter = up

	return cc, down, up, nil
}

func isWildcard(host string) bool {
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		return true
	}
	return false
}

// tuneLimiter retunes l in place so a running client picks up the change.
// Zero or negative means unlimited.
func tuneLimiter(l *rate.Limiter, bytesPerSec int64) {
	if l == nil {
		return
	}
	if bytesPerSec <= 0 {
		l.SetLimit(rate.Inf)
		return
	}
	burst := int(bytesPerSec)
	if burst < minLimiterBurst {
		burst = minLimiterBurst
	}
	l.SetBurst(burst)
	l.SetLimit(rate.Limit(bytesPerSec))
}

// restartOnlyChanges lists settings that a live anacrolix client cannot
// change; they apply only to sessions created afterwards.
func restartOnlyChanges(prev, next domain.SessionConfiguration) []string {
	var names []string
	if prev.ListenInterfaces != next.ListenInterfaces {
		names = append(names, "listen_interfaces")
	}
	if prev.EnableDHT != next.EnableDHT {
		names = append(names, "enable_dht")
	}
	if prev.EnableUPnP != next.EnableUPnP || prev.EnableNATPMP != next.EnableNATPMP {
		names = append(names, "port_mapping")
	}
	if prev.EnableLSD != next.EnableLSD {
		names = append(names, "enable_lsd")
	}
	return names
}
