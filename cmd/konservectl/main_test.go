package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "konservectl.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return out.String(), err
}

func TestRun_Usage(t *testing.T) {
	_, err := runCLI(t, "")
	require.ErrorIs(t, err, errUsage)
}

func TestRun_UnknownCommand(t *testing.T) {
	_, err := runCLI(t, "", "frobnicate")
	require.ErrorIs(t, err, errUsage)
}

func TestRun_Help(t *testing.T) {
	out, err := runCLI(t, "", "help")
	require.NoError(t, err)
	for _, cmd := range []string{"convert", "get", "put", "del", "keys", "version"} {
		assert.Contains(t, out, cmd)
	}
}

func TestRun_ArgumentErrors(t *testing.T) {
	cfg := writeConfig(t, "store:\n  backend: memory\n")
	for _, args := range [][]string{
		{"-config", cfg, "get"},
		{"-config", cfg, "put", "k"},
		{"-config", cfg, "del"},
		{"-config", cfg, "convert", "-from", "xml"},
	} {
		_, err := runCLI(t, "", args...)
		require.Error(t, err, "%v", args)
	}
}

func TestRun_Version(t *testing.T) {
	out, err := runCLI(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "0000.00.00-0000-dev\n", out)
}

func TestRun_ConvertRoundTrip(t *testing.T) {
	cfg := writeConfig(t, "store:\n  backend: memory\n")
	bin, err := runCLI(t, `{:a [1 2.5 "x"] :b #{:k}}`, "-config", cfg, "convert", "-from", "edn", "-to", "cbor")
	require.NoError(t, err)

	out, err := runCLI(t, bin, "-config", cfg, "convert", "-from", "cbor", "-to", "edn")
	require.NoError(t, err)
	assert.Equal(t, "{:a [1 2.5 \"x\"], :b #{:k}}\n", out)
}

func TestRun_ConvertRejectsUnknownTag(t *testing.T) {
	cfg := writeConfig(t, "store:\n  backend: memory\n")
	_, err := runCLI(t, `#evil/Exec "rm -rf /"`, "-config", cfg, "convert", "-to", "msgpack")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tag")
}

func TestRun_PutGetKeysDel(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, "store:\n  backend: file\n  codec: edn\n  dir: "+dir+"\nlog:\n  level: error\n")

	_, err := runCLI(t, "", "-config", cfg, "put", "user", `{"name" "ada" "langs" ["go" "clj"]}`)
	require.NoError(t, err)

	out, err := runCLI(t, "", "-config", cfg, "get", "user", "langs", "1")
	require.NoError(t, err)
	assert.Equal(t, "\"clj\"\n", out)

	out, err = runCLI(t, "", "-config", cfg, "keys")
	require.NoError(t, err)
	assert.Equal(t, "user\n", out)

	_, err = runCLI(t, "", "-config", cfg, "del", "user")
	require.NoError(t, err)
	_, err = runCLI(t, "", "-config", cfg, "get", "user")
	require.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("KONSERVE_STORE_BACKEND", "memory")
	t.Setenv("KONSERVE_STORE_CODEC", "cbor")
	cfg, err := Load(writeConfig(t, "log:\n  level: info\n"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "cbor", cfg.Store.Codec)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []string{
		"log:\n  level: loud\n",
		"store:\n  backend: tape\n",
		"store:\n  backend: redis\n",
		"store:\n  backend: memory\n  codec: xml\n",
		"store:\n  backend: memory\n  encryption_key: c2hvcnQ=\n",
	}
	for _, body := range cases {
		_, err := Load(writeConfig(t, body))
		require.Error(t, err, body)
	}
}

func TestSetupLogger_FileOutput(t *testing.T) {
	p := filepath.Join(t.TempDir(), "logs", "ctl.log")
	l, err := setupLogger(LogConfig{Level: "info", Format: "json", Outputs: []string{p}, Rotation: RotationConfig{Enable: true}}, os.Stderr)
	require.NoError(t, err)
	l.Info("hello")
	require.NoError(t, l.Sync())

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hello"`)
}
