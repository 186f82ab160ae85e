package hybrid

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyFileInProcess(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello world"), 0o644))
	dst := filepath.Join(dir, "dst.txt")

	e := New(Config{}, nil)
	require.False(t, e.IsNativeAvailable())

	res, err := e.CopyFile(context.Background(), src, dst)
	require.NoError(t, err)
	require.Equal(t, int64(11), res.Bytes)
	require.Equal(t, BackendInProcess, res.Backend)
	require.NotEmpty(t, res.ChecksumSHA256)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))
}

func TestCalculateChecksums(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(p, []byte("abc"), 0o644))

	e := New(Config{}, nil)
	results := e.CalculateChecksums(context.Background(), []string{p, filepath.Join(dir, "missing.txt")})
	require.Len(t, results, 2)
	require.Empty(t, results[0].Error)
	require.NotEmpty(t, results[0].MD5)
	require.NotEmpty(t, results[0].SHA1)
	require.NotEmpty(t, results[0].SHA256)
	require.NotEmpty(t, results[1].Error)
}

func TestCompressDecompressGzipRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload data for compression"), 0o644))
	compressed := filepath.Join(dir, "input.txt.gz")
	restored := filepath.Join(dir, "restored.txt")

	e := New(Config{}, nil)

	cres, err := e.CompressFile(context.Background(), src, compressed, FormatGzip)
	require.NoError(t, err)
	require.Greater(t, cres.InputBytes, int64(0))

	dres, err := e.DecompressFile(context.Background(), compressed, restored, FormatGzip)
	require.NoError(t, err)
	require.Equal(t, cres.InputBytes, dres.OutputBytes)

	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	require.Equal(t, "payload data for compression", string(got))
}

func TestFormatFromExt(t *testing.T) {
	f, err := FormatFromExt("archive.tar.gz")
	require.NoError(t, err)
	require.Equal(t, FormatTarGz, f)

	f, err = FormatFromExt("archive.tbz2")
	require.NoError(t, err)
	require.Equal(t, FormatTarBz2, f)

	f, err = FormatFromExt("archive.txz")
	require.NoError(t, err)
	require.Equal(t, FormatTarXz, f)

	f, err = FormatFromExt("archive.xz")
	require.NoError(t, err)
	require.Equal(t, FormatXz, f)

	f, err = FormatFromExt("archive.tar")
	require.NoError(t, err)
	require.Equal(t, FormatTar, f)

	f, err = FormatFromExt("archive.unknown")
	require.NoError(t, err)
	require.Equal(t, FormatGzip, f)
}

func TestCompareRequiresNative(t *testing.T) {
	e := New(Config{}, nil)
	_, err := e.Compare(context.Background(), "a", "b", 1)
	require.Error(t, err)
}

func TestBenchmarkRunsIterationsInProcess(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("benchmark payload"), 0o644))
	dst := filepath.Join(dir, "dst.txt")

	e := New(Config{}, nil)
	result, err := e.Benchmark(context.Background(), src, dst, 3)
	require.NoError(t, err)
	require.Equal(t, 3, result.Iterations)
	require.Equal(t, 3, result.SuccessCount)
	require.Equal(t, 100.0, result.SuccessRate)
	require.GreaterOrEqual(t, result.MaxDurationMs, result.MinDurationMs)
}

func TestDeriveHelperKeyProducesFreshSaltPerCall(t *testing.T) {
	k1, err := deriveHelperKey("secret")
	require.NoError(t, err)
	k2, err := deriveHelperKey("secret")
	require.NoError(t, err)

	require.NotEmpty(t, k1)
	require.NotEqual(t, k1, k2)
}
