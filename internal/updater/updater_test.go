package updater

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/webtimer/internal/distributor"
	"github.com/thatsimonsguy/webtimer/internal/mutex"
	"github.com/thatsimonsguy/webtimer/internal/program"
	"github.com/thatsimonsguy/webtimer/internal/signing"
	"github.com/thatsimonsguy/webtimer/internal/transport"
)

const hostID = "b827eb000001"

type fixture struct {
	remote  string
	work    string
	signer  *signing.Signer
	updater *Updater
	alerts  []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{remote: t.TempDir(), work: t.TempDir()}

	store, err := transport.Open(f.remote, "")
	require.NoError(t, err)
	f.signer, err = signing.NewSigner("secret", signing.HashSHA256)
	require.NoError(t, err)

	d := distributor.New(store, hostID, f.signer)
	f.updater = New(d, f.work, filepath.Join(t.TempDir(), "inbox"), 2, time.Millisecond).
		WithNotifier(func(title, msg string) { f.alerts = append(f.alerts, title) })
	return f
}

// publish signs files into a bundle waiting in the host's remote namespace.
func (f *fixture) publish(t *testing.T, bundle string, files map[string]string) string {
	t.Helper()
	src := t.TempDir()
	var manifest []string
	for _, name := range sortedKeys(files) {
		p := filepath.Join(src, name)
		require.NoError(t, os.WriteFile(p, []byte(files[name]), 0644))
		manifest = append(manifest, p)
	}

	ns := filepath.Join(f.remote, hostID)
	require.NoError(t, os.MkdirAll(ns, 0755))
	archive := filepath.Join(ns, bundle)
	require.NoError(t, f.signer.CreateBundle(archive, manifest))
	return archive
}

func sortedKeys(m map[string]string) []string {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestRunOnce_StagesVerifiedBundle(t *testing.T) {
	f := newFixture(t)
	archive := f.publish(t, "a.tar", map[string]string{
		"Program.set_update": "Winter\n",
		"Winter.prog_update": strings.Repeat("\x01", 10080),
	})

	staged, err := f.updater.RunOnce(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Program.set_update", "Winter.prog_update"}, staged)

	assert.True(t, program.UpdatePending(f.work))
	assert.FileExists(t, filepath.Join(f.work, "Winter.prog_update"))
	assert.NoFileExists(t, filepath.Join(f.work, signing.SignatureEntry))
	assert.NoFileExists(t, filepath.Join(f.work, mutex.LockName))
	assert.NoFileExists(t, archive, "pulled bundle is removed remotely")
	assert.Empty(t, f.alerts)

	applied, err := program.ApplyUpdate(f.work)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Program.set", "Winter.prog"}, applied)
}

func TestRunOnce_RejectsTamperedBundle(t *testing.T) {
	f := newFixture(t)
	archive := f.publish(t, "a.tar", map[string]string{"Program.set_update": "Winter\n"})

	data, err := os.ReadFile(archive)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(archive, []byte(strings.Replace(string(data), "Winter", "Summer", 1)), 0644))

	staged, err := f.updater.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, staged)
	assert.False(t, program.UpdatePending(f.work))
	assert.NoFileExists(t, filepath.Join(f.work, "Program.set_update"))
	assert.Equal(t, []string{"Program bundle rejected"}, f.alerts)

	left, err := filepath.Glob(filepath.Join(f.updater.inboxDir, "*.tar"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRunOnce_RejectsUnstagedEntries(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "a.tar", map[string]string{"Program.set": "Winter\n"})

	staged, err := f.updater.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, staged)
	assert.NoFileExists(t, filepath.Join(f.work, "Program.set"))
	assert.Len(t, f.alerts, 1)
}

func TestRunOnce_SkipsWhileMarkerPending(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, program.StageUpdate(f.work, []string{"Program.set_update"}))
	archive := f.publish(t, "a.tar", map[string]string{"Program.set_update": "Winter\n"})

	staged, err := f.updater.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, staged)
	assert.FileExists(t, archive)
}

func TestRunOnce_KeepsBundleWhileWorkDirLocked(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "a.tar", map[string]string{"Program.set_update": "Winter\n"})

	outcome, err := mutex.TryLockLocal("executor", f.work)
	require.NoError(t, err)
	require.Equal(t, mutex.Acquired, outcome)

	staged, err := f.updater.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, staged)

	kept, err := filepath.Glob(filepath.Join(f.updater.inboxDir, "*.tar"))
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	require.NoError(t, mutex.ReleaseLocal(f.work))
	staged, err = f.updater.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Program.set_update"}, staged)
}

func TestRunOnce_PushesStatus(t *testing.T) {
	f := newFixture(t)
	status := filepath.Join(t.TempDir(), "HostTimer.status")
	require.NoError(t, os.WriteFile(status, []byte("Program Set: Winter\n"), 0644))
	f.updater.WithStatusFile(status)

	_, err := f.updater.RunOnce(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(f.remote, hostID, "HostTimer.status"))
}

func TestRecover_ReleasesWorkDirForExecutor(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.updater.inboxDir, 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(f.remote, hostID), 0755))
	for _, dir := range []string{f.work, f.updater.inboxDir, filepath.Join(f.remote, hostID)} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, mutex.LockName), []byte(hostID), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.work, "Winter.prog_update"), []byte(strings.Repeat("\x01", 10080)), 0644))
	require.NoError(t, program.StageUpdate(f.work, []string{"Winter.prog_update"}))

	require.NoError(t, f.updater.Recover(context.Background()))
	for _, dir := range []string{f.work, f.updater.inboxDir, filepath.Join(f.remote, hostID)} {
		assert.NoFileExists(t, filepath.Join(dir, mutex.LockName))
	}

	// the executor can now take the work dir and apply the staged program
	outcome, err := mutex.TryLockLocal("executor", f.work)
	require.NoError(t, err)
	require.Equal(t, mutex.Acquired, outcome)
	applied, err := program.ApplyUpdate(f.work)
	require.NoError(t, err)
	assert.Equal(t, []string{"Winter.prog"}, applied)
	require.NoError(t, mutex.ReleaseLocal(f.work))
}

func TestRecover_KeepsExecutorLock(t *testing.T) {
	f := newFixture(t)
	outcome, err := mutex.TryLockLocal("executor", f.work)
	require.NoError(t, err)
	require.Equal(t, mutex.Acquired, outcome)

	require.NoError(t, f.updater.Recover(context.Background()))

	owner, err := os.ReadFile(filepath.Join(f.work, mutex.LockName))
	require.NoError(t, err)
	assert.Equal(t, "executor", string(owner))
}
