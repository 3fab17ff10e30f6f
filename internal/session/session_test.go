package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torrentsession/internal/domain"
)

const testMagnet = "magnet:?xt=urn:btih:c9e15763f722f23e98a29decdfae341b98d53056&dn=test"

func testMagnetN(n int) string {
	hashes := []string{
		"c9e15763f722f23e98a29decdfae341b98d53056",
		"dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c",
		"08ada5a7a6183aae1e09d831df6748d566095a10",
		"a88fda5954e89178c372716a6a78b8180ed4dad3",
	}
	return "magnet:?xt=urn:btih:" + hashes[n%len(hashes)]
}

func newTestSession(t *testing.T, fe *fakeEngine, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithPollInterval(5 * time.Millisecond)}, opts...)
	s, err := New(context.Background(), fe, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeTorrentFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.torrent")
	require.NoError(t, os.WriteFile(path, []byte("d4:infod4:name4:testee"), 0o644))
	return path
}

func TestNewSessionIsNotPaused(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "defaults"},
		{name: "explicit configuration", opts: []Option{WithConfiguration(domain.DefaultSessionConfiguration())}},
		{name: "limited", opts: []Option{WithConfiguration(domain.SessionConfiguration{
			DownloadRateLimit: 1 << 20,
			MaxConnections:    10,
			MaxUploads:        2,
			ListenInterfaces:  "127.0.0.1:0",
		})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, newFakeEngine(), tt.opts...)
			paused, err := s.IsPaused(context.Background())
			require.NoError(t, err)
			assert.False(t, paused)
		})
	}
}

func TestNewRecordsConfiguration(t *testing.T) {
	cfg := domain.DefaultSessionConfiguration()
	cfg.UploadRateLimit = 4096
	s := newTestSession(t, newFakeEngine(), WithConfiguration(cfg))
	assert.Equal(t, cfg, s.Configuration())

	s2 := newTestSession(t, newFakeEngine())
	assert.Equal(t, domain.DefaultSessionConfiguration(), s2.Configuration())
}

func TestNewFailsWhenEngineRejectsCreation(t *testing.T) {
	fe := newFakeEngine()
	fe.createErr = errors.New("no resources")

	s, err := New(context.Background(), fe)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, domain.ErrEngineRejected)
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	cfg := domain.DefaultSessionConfiguration()
	cfg.MaxConnections = 0

	s, err := New(context.Background(), newFakeEngine(), WithConfiguration(cfg))
	assert.Nil(t, s)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestPauseResumeIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, newFakeEngine())

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Pause(ctx))
		paused, err := s.IsPaused(ctx)
		require.NoError(t, err)
		assert.True(t, paused)
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Resume(ctx))
		paused, err := s.IsPaused(ctx)
		require.NoError(t, err)
		assert.False(t, paused)
	}
}

func TestUpdateConfiguration(t *testing.T) {
	ctx := context.Background()
	fe := newFakeEngine()
	s := newTestSession(t, fe)

	cfg := domain.DefaultSessionConfiguration()
	cfg.DownloadRateLimit = 1 << 20
	cfg.EnableDHT = false
	require.NoError(t, s.UpdateConfiguration(ctx, cfg))
	assert.Equal(t, cfg, s.Configuration())
	assert.Equal(t, cfg, fe.sessions[s.handle].cfg)

	bad := cfg
	bad.DownloadRateLimit = -1
	assert.ErrorIs(t, s.UpdateConfiguration(ctx, bad), domain.ErrInvalidConfiguration)
	assert.Equal(t, cfg, s.Configuration())

	fe.applyErr = errors.New("settings refused")
	next := cfg
	next.MaxConnections = 50
	err := s.UpdateConfiguration(ctx, next)
	assert.ErrorIs(t, err, domain.ErrEngineRejected)
	assert.Equal(t, cfg, s.Configuration())
}

func TestAddTorrentFile(t *testing.T) {
	ctx := context.Background()
	fe := newFakeEngine()
	s := newTestSession(t, fe)

	path := writeTorrentFile(t)
	tor, err := s.AddTorrentFile(ctx, path, t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, tor)
	assert.NotEmpty(t, tor.ID())
	assert.Equal(t, path, tor.Source())
	assert.Equal(t, SourceFile, tor.SourceKind())

	got, ok := s.Torrent(tor.ID())
	require.True(t, ok)
	assert.Same(t, tor, got)
}

func TestAddTorrentFileMissing(t *testing.T) {
	fe := newFakeEngine()
	s := newTestSession(t, fe)

	tor, err := s.AddTorrentFile(context.Background(), filepath.Join(t.TempDir(), "nope.torrent"), t.TempDir())
	assert.Nil(t, tor)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.ErrorIs(t, err, domain.ErrInvalidTorrentFile)
	assert.Zero(t, fe.addCalls.Load())
	assert.Empty(t, s.Torrents())
}

func TestAddTorrentFileDirectory(t *testing.T) {
	s := newTestSession(t, newFakeEngine())
	_, err := s.AddTorrentFile(context.Background(), t.TempDir(), t.TempDir())
	assert.ErrorIs(t, err, domain.ErrInvalidTorrentFile)
}

func TestAddRejectedByEngine(t *testing.T) {
	ctx := context.Background()
	fe := newFakeEngine()
	fe.addErr = errors.New("bencode: syntax error")
	s := newTestSession(t, fe)

	_, err := s.AddTorrentFile(ctx, writeTorrentFile(t), t.TempDir())
	assert.ErrorIs(t, err, domain.ErrEngineRejected)
	assert.ErrorIs(t, err, domain.ErrInvalidTorrentFile)

	_, err = s.AddMagnet(ctx, testMagnet, t.TempDir())
	assert.ErrorIs(t, err, domain.ErrEngineRejected)
	assert.ErrorIs(t, err, domain.ErrInvalidMagnetLink)
	assert.Empty(t, s.Torrents())
}

func TestAddMagnetValidation(t *testing.T) {
	fe := newFakeEngine()
	s := newTestSession(t, fe)

	tests := []struct {
		name string
		uri  string
		dir  string
		want error
	}{
		{"not a magnet", "http://example.com/a.torrent", t.TempDir(), domain.ErrInvalidMagnetLink},
		{"no topic", "magnet:?dn=foo", t.TempDir(), domain.ErrInvalidMagnetLink},
		{"empty download path", testMagnet, "", domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tor, err := s.AddMagnet(context.Background(), tt.uri, tt.dir)
			assert.Nil(t, tor)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, fe.addCalls.Load())
}

func TestAddDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, newFakeEngine())

	_, err := s.AddMagnet(ctx, testMagnet, t.TempDir())
	require.NoError(t, err)
	_, err = s.AddMagnet(ctx, testMagnet, t.TempDir())
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Len(t, s.Torrents(), 1)
}

func TestTorrentsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, newFakeEngine())

	var want []domain.TorrentID
	for i := 0; i < 4; i++ {
		tor, err := s.AddMagnet(ctx, testMagnetN(i), t.TempDir())
		require.NoError(t, err)
		want = append(want, tor.ID())
	}
	var got []domain.TorrentID
	for _, tor := range s.Torrents() {
		got = append(got, tor.ID())
	}
	assert.Equal(t, want, got)
}

func TestRemoveTorrent(t *testing.T) {
	ctx := context.Background()
	fe := newFakeEngine()
	s := newTestSession(t, fe)

	tor, err := s.AddMagnet(ctx, testMagnet, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.RemoveTorrent(ctx, tor, true))
	assert.Equal(t, int32(1), fe.removeCalls.Load())

	_, ok := s.Torrent(tor.ID())
	assert.False(t, ok)
	assert.Empty(t, s.Torrents())

	// Second removal is rejected before reaching the engine.
	err = s.RemoveTorrent(ctx, tor, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, err, domain.ErrTorrentNotFound)
	assert.Equal(t, int32(1), fe.removeCalls.Load())

	// Operations on the retired torrent fail instead of touching the engine.
	assert.ErrorIs(t, tor.Pause(ctx), domain.ErrTorrentRemoved)
	_, err = tor.Status(ctx)
	assert.ErrorIs(t, err, domain.ErrTorrentRemoved)
	assert.False(t, tor.IsValid(ctx))
}

func TestRemoveForeignTorrent(t *testing.T) {
	ctx := context.Background()
	fe := newFakeEngine()
	a := newTestSession(t, fe)
	b := newTestSession(t, fe)

	tor, err := a.AddMagnet(ctx, testMagnet, t.TempDir())
	require.NoError(t, err)

	err = b.RemoveTorrent(ctx, tor, false)
	assert.ErrorIs(t, err, domain.ErrTorrentNotFound)
	assert.Zero(t, fe.removeCalls.Load())
	assert.Len(t, a.Torrents(), 1)

	assert.ErrorIs(t, b.RemoveTorrent(ctx, nil, false), domain.ErrInvalidInput)
}

func TestTorrentOperations(t *testing.T) {
	ctx := context.Background()
	fe := newFakeEngine()
	s := newTestSession(t, fe)

	tor, err := s.AddMagnet(ctx, testMagnet, t.TempDir())
	require.NoError(t, err)
	ft := fe.torrent(tor.handle)

	require.NoError(t, tor.Pause(ctx))
	st, err := tor.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.IsPaused)

	require.NoError(t, tor.Resume(ctx))
	st, err = tor.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.IsPaused)

	require.NoError(t, tor.SetDownloadLimit(ctx, 1000))
	require.NoError(t, tor.SetUploadLimit(ctx, 0))
	assert.Equal(t, int64(1000), ft.dlLimit)
	assert.Zero(t, ft.ulLimit)
	assert.ErrorIs(t, tor.SetDownloadLimit(ctx, -1), domain.ErrInvalidInput)
	assert.ErrorIs(t, tor.SetUploadLimit(ctx, -1), domain.ErrInvalidInput)

	assert.True(t, tor.IsValid(ctx))
}

func TestTorrentInfo(t *testing.T) {
	ctx := context.Background()
	fe := newFakeEngine()
	s := newTestSession(t, fe)

	tor, err := s.AddMagnet(ctx, testMagnet, t.TempDir())
	require.NoError(t, err)

	_, ok := tor.Info(ctx)
	assert.False(t, ok, "no metadata yet")

	fe.setInfo(tor.handle, domain.TorrentInfo{})
	_, ok = tor.Info(ctx)
	assert.False(t, ok, "empty name counts as missing")

	want := domain.TorrentInfo{Name: "test", TotalSize: 1 << 20, PieceLength: 1 << 14, InfoHash: "c9e1", NumFiles: 2}
	fe.setInfo(tor.handle, want)
	info, ok := tor.Info(ctx)
	require.True(t, ok)
	assert.Equal(t, want, info)
}

func TestStatusClampsProgress(t *testing.T) {
	ctx := context.Background()
	fe := newFakeEngine()
	s := newTestSession(t, fe)

	tor, err := s.AddMagnet(ctx, testMagnet, t.TempDir())
	require.NoError(t, err)
	fe.setStatus(tor.handle, domain.TorrentStatus{State: domain.StateSeeding, Progress: 1.2})

	st, err := tor.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, st.Progress)
}

func TestStatisticsEmpty(t *testing.T) {
	s := newTestSession(t, newFakeEngine())
	stats, err := s.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatistics{}, stats)
}

func TestStatisticsAggregates(t *testing.T) {
	ctx := context.Background()
	fe := newFakeEngine()
	s := newTestSession(t, fe)

	a, err := s.AddMagnet(ctx, testMagnetN(0), t.TempDir())
	require.NoError(t, err)
	b, err := s.AddMagnet(ctx, testMagnetN(1), t.TempDir())
	require.NoError(t, err)

	fe.setStatus(a.handle, domain.TorrentStatus{State: domain.StateDownloading, TotalDownload: 100, TotalUpload: 10, NumPeers: 4, NumSeeds: 1, DownloadRate: 50})
	fe.setStatus(b.handle, domain.TorrentStatus{State: domain.StateSeeding, TotalDownload: 200, TotalUpload: 20, NumPeers: 2, NumSeeds: 2, IsPaused: true})

	stats, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatistics{
		TotalDownload:  300,
		TotalUpload:    30,
		DownloadRate:   50,
		ActiveTorrents: 1,
		PausedTorrents: 1,
		TotalPeers:     6,
		TotalSeeds:     3,
	}, stats)
}

func TestConcurrentOperationsOnOneTorrentDoNotOverlap(t *testing.T) {
	ctx := context.Background()
	fe := newFakeEngine()
	fe.opDelay = time.Millisecond
	s := newTestSession(t, fe)

	tor, err := s.AddMagnet(ctx, testMagnet, t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 4 {
			case 0:
				_ = tor.Pause(ctx)
			case 1:
				_ = tor.Resume(ctx)
			case 2:
				_, _ = tor.Status(ctx)
			case 3:
				_ = tor.SetDownloadLimit(ctx, int64(i))
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Statistics(ctx)
	}()
	wg.Wait()

	assert.Zero(t, fe.overlaps.Load())
}

func TestTorrentOperationHonoursContext(t *testing.T) {
	fe := newFakeEngine()
	s := newTestSession(t, fe)

	tor, err := s.AddMagnet(context.Background(), testMagnet, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, tor.lock.Acquire(context.Background(), 1))
	defer tor.lock.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tor.Pause(ctx), context.DeadlineExceeded)
}

func TestTorrentOperationsAdmittedInArrivalOrder(t *testing.T) {
	fe := newFakeEngine()
	s := newTestSession(t, fe)

	tor, err := s.AddMagnet(context.Background(), testMagnet, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, tor.lock.Acquire(context.Background(), 1))

	// The first waiter gives up while queued; the ones behind it keep their
	// places.
	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() { abandoned <- tor.SetDownloadLimit(ctx, 100) }()
	time.Sleep(10 * time.Millisecond)

	var wg sync.WaitGroup
	for i := int64(1); i <= 3; i++ {
		wg.Add(1)
		go func(limit int64) {
			defer wg.Done()
			assert.NoError(t, tor.SetDownloadLimit(context.Background(), limit))
		}(i)
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	assert.ErrorIs(t, <-abandoned, context.Canceled)
	tor.lock.Release(1)
	wg.Wait()

	assert.Equal(t, []int64{1, 2, 3}, fe.downloadLimits(tor.handle))
}

func TestRemoveTorrentEngineFailureKeepsEntry(t *testing.T) {
	ctx := context.Background()
	fe := newFakeEngine()
	s := newTestSession(t, fe)

	tor, err := s.AddMagnet(ctx, testMagnet, t.TempDir())
	require.NoError(t, err)

	fe.removeErr = errors.New("engine busy")
	err = s.RemoveTorrent(ctx, tor, false)
	assert.ErrorIs(t, err, domain.ErrEngineRejected)

	// Nothing was retired, so the entry stays and its handle is still live.
	got, ok := s.Torrent(tor.ID())
	require.True(t, ok)
	assert.Same(t, tor, got)
	assert.True(t, tor.IsValid(ctx))
	require.NoError(t, tor.Pause(ctx))

	fe.removeErr = nil
	require.NoError(t, s.RemoveTorrent(ctx, tor, false))
	assert.Empty(t, s.Torrents())
}

func TestRemoveTorrentFilesNotDeleted(t *testing.T) {
	ctx := context.Background()
	fe := newFakeEngine()
	s := newTestSession(t, fe)

	tor, err := s.AddMagnet(ctx, testMagnet, t.TempDir())
	require.NoError(t, err)

	fe.removeErr = fmt.Errorf("%w: directory not empty", domain.ErrFilesNotDeleted)
	err = s.RemoveTorrent(ctx, tor, true)
	assert.ErrorIs(t, err, domain.ErrFilesNotDeleted)
	assert.NotErrorIs(t, err, domain.ErrEngineRejected)

	// The handle is gone, so the entry went with it.
	_, ok := s.Torrent(tor.ID())
	assert.False(t, ok)
	assert.Empty(t, s.Torrents())
	assert.False(t, tor.IsValid(ctx))
	assert.ErrorIs(t, tor.Pause(ctx), domain.ErrTorrentRemoved)

	err = s.RemoveTorrent(ctx, tor, true)
	assert.ErrorIs(t, err, domain.ErrTorrentNotFound)
	assert.Equal(t, int32(1), fe.removeCalls.Load())
}

func TestAbandonedAddIsRetired(t *testing.T) {
	fe := newFakeEngine()
	fe.addGate = make(chan struct{})
	fe.addStarted = make(chan struct{}, 1)
	s := newTestSession(t, fe)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.AddMagnet(ctx, testMagnet, t.TempDir())
		errCh <- err
	}()

	<-fe.addStarted
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(fe.addGate)
	require.Eventually(t, func() bool { return fe.removeCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, s.Torrents())
}

func TestCloseWaitsForInFlightAdd(t *testing.T) {
	fe := newFakeEngine()
	fe.addGate = make(chan struct{})
	fe.addStarted = make(chan struct{}, 1)
	s := newTestSession(t, fe)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.AddMagnet(context.Background(), testMagnet, t.TempDir())
		errCh <- err
	}()
	<-fe.addStarted

	closed := make(chan struct{})
	go func() {
		_ = s.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while an add was still inside the engine")
	case <-time.After(30 * time.Millisecond):
	}

	close(fe.addGate)
	<-closed
	assert.ErrorIs(t, <-errCh, domain.ErrSessionClosed)

	events := fe.eventLog()
	require.NotEmpty(t, events)
	assert.Equal(t, "destroy", events[len(events)-1])
	assert.Contains(t, events, "add")
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	fe := newFakeEngine()
	s := newTestSession(t, fe)

	tor, err := s.AddMagnet(ctx, testMagnet, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, fe.sessions[s.handle].destroyed)
	assert.Zero(t, fe.removeCalls.Load())

	assert.ErrorIs(t, s.Pause(ctx), domain.ErrSessionClosed)
	_, err = s.IsPaused(ctx)
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	_, err = s.AddMagnet(ctx, testMagnetN(1), t.TempDir())
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.ErrorIs(t, s.RemoveTorrent(ctx, tor, false), domain.ErrSessionClosed)
	assert.ErrorIs(t, tor.Resume(ctx), domain.ErrTorrentRemoved)
	assert.Empty(t, s.Torrents())

	destroys := 0
	for _, e := range fe.eventLog() {
		if e == "destroy" {
			destroys++
		}
	}
	assert.Equal(t, 1, destroys)
}
