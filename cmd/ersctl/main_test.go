package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andreyvit/ersdb"
	"github.com/andreyvit/ersdb/config"
	"github.com/andreyvit/ersdb/ers"
	"github.com/andreyvit/ersdb/kv"
)

type fixture struct {
	dir     string
	cfgPath string
}

func newFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	cfg := config.Defaults()
	cfg.Storage.Path = filepath.Join(dir, "ers.db")
	cfg.Log.Level = "warn"
	require.NoError(t, cfg.Write(cfgPath))
	return &fixture{dir: dir, cfgPath: cfgPath}
}

func (f *fixture) run(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", f.cfgPath}, args...))
	require.NoError(t, cmd.Execute(), "stderr: %s", errOut.String())
	return out.String()
}

func (f *fixture) seed(t *testing.T) {
	db, err := ersdb.Open(ersdb.Options{Backend: kv.Bolt, Location: filepath.Join(f.dir, "ers.db"), IsTesting: true})
	require.NoError(t, err)
	require.NoError(t, db.Write(func(txn ers.Txn) error {
		a, err := txn.NewEntity("Person")
		if err != nil {
			return err
		}
		b, err := txn.NewEntity("Person")
		if err != nil {
			return err
		}
		if _, err := a.SetProperty("name", []byte("alice")); err != nil {
			return err
		}
		if err := b.SetBlob("avatar", []byte{1, 2, 3}); err != nil {
			return err
		}
		_, err = a.AddLink("friend", b)
		return err
	}))
	require.NoError(t, db.Close())
}

func TestVersion(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, "ersctl v"+Version+"\n", f.run(t, "version"))
}

func TestTypesAndSymbols(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	out := f.run(t, "types")
	require.Contains(t, out, "Person")
	require.Contains(t, out, "name")
	require.Contains(t, out, "avatar")
	require.Contains(t, out, "friend")

	out = f.run(t, "symbols")
	require.Contains(t, out, "Person")
	require.Contains(t, out, "friend")
}

func TestDumpLoad(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	dumpPath := filepath.Join(f.dir, "ers.dump")
	f.run(t, "dump", dumpPath)

	copyPath := filepath.Join(f.dir, "copy.db")
	f.run(t, "--path", copyPath, "load", dumpPath)

	out := f.run(t, "--path", copyPath, "stats")
	require.Contains(t, out, "ers.schema")
	require.Contains(t, out, "ers.symbols")

	out = f.run(t, "--path", copyPath, "types")
	require.Contains(t, out, "Person")
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	out := f.run(t, "metrics")
	require.Contains(t, out, "ersdb_kv_")
}

func TestConfigWrite(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "effective.toml")
	f.run(t, "--backend", "mem", "config", path)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "mem", cfg.Storage.Backend)
}
