package hybrid

import (
	"archive/tar"
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artemis/migrationctl/internal/migerr"
)

// Format names a compression/archive scheme (spec §4.A).
type Format string

const (
	FormatGzip   Format = "gzip"
	FormatBzip2  Format = "bzip2"
	FormatXz     Format = "xz"
	FormatTar    Format = "tar"
	FormatTarGz  Format = "tar.gz"
	FormatTarBz2 Format = "tar.bz2"
	FormatTarXz  Format = "tar.xz"
	FormatZip    Format = "zip"
)

// FormatFromExt infers a Format from a filename's extension, matching the
// original's suffix-sniffing (original_source/performance/hybrid.py). An
// unrecognized extension defaults to gzip rather than failing.
func FormatFromExt(name string) (Format, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".tar.bz2") || strings.HasSuffix(lower, ".tbz2"):
		return FormatTarBz2, nil
	case strings.HasSuffix(lower, ".tar.xz") || strings.HasSuffix(lower, ".txz"):
		return FormatTarXz, nil
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar, nil
	case strings.HasSuffix(lower, ".gz"):
		return FormatGzip, nil
	case strings.HasSuffix(lower, ".bz2"):
		return FormatBzip2, nil
	case strings.HasSuffix(lower, ".xz"):
		return FormatXz, nil
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	default:
		return FormatGzip, nil
	}
}

// CompressResult is compress_file's contract result.
type CompressResult struct {
	InputBytes  int64
	OutputBytes int64
	Ratio       float64
	DurationMs  int64
	Backend     Backend
}

// CompressFile compresses src into dst using format, preferring the native
// helper (which may wrap xz, unavailable to the Go standard library) with
// in-process fallback for gzip and tar.gz, the formats compress/gzip can
// cover. bzip2 has no stdlib writer; bzip2 and every other format need the
// native helper and report a clear error if it is unavailable (documented
// in DESIGN.md).
func (e *Engine) CompressFile(ctx context.Context, src, dst string, format Format) (*CompressResult, error) {
	if e.cfg.PreferNative && e.nativeAvailable {
		if r, err := e.compressNative(ctx, src, dst, format); err == nil {
			return r, nil
		} else if !e.cfg.FallbackOnError {
			return nil, err
		} else if e.logger != nil {
			e.logger.Warn("native compress failed, falling back")
		}
	}

	switch format {
	case FormatGzip:
		return e.compressGzip(src, dst)
	case FormatTarGz:
		return e.compressTarGz(src, dst)
	default:
		return nil, &migerr.NativeHelperError{Op: "compress_file", Message: fmt.Sprintf("format %s requires the native helper", format)}
	}
}

func (e *Engine) compressNative(ctx context.Context, src, dst string, format Format) (*CompressResult, error) {
	start := time.Now()
	data, err := e.invokeHelper(ctx, "compress", map[string]string{"src": src, "dst": dst, "format": string(format)})
	if err != nil {
		return nil, err
	}
	r := &CompressResult{DurationMs: time.Since(start).Milliseconds(), Backend: BackendNative}
	if v, ok := data["input_bytes"].(float64); ok {
		r.InputBytes = int64(v)
	}
	if v, ok := data["output_bytes"].(float64); ok {
		r.OutputBytes = int64(v)
	}
	if r.InputBytes > 0 {
		r.Ratio = float64(r.OutputBytes) / float64(r.InputBytes)
	}
	return r, nil
}

func (e *Engine) compressGzip(src, dst string) (*CompressResult, error) {
	start := time.Now()
	in, err := os.Open(src)
	if err != nil {
		return nil, &migerr.NativeHelperError{Op: "compress_file", Message: err.Error()}
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return nil, &migerr.NativeHelperError{Op: "compress_file", Message: err.Error()}
	}

	out, err := os.Create(dst)
	if err != nil {
		return nil, &migerr.NativeHelperError{Op: "compress_file", Message: err.Error()}
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		return nil, &migerr.NativeHelperError{Op: "compress_file", Message: err.Error()}
	}
	if err := gw.Close(); err != nil {
		return nil, &migerr.NativeHelperError{Op: "compress_file", Message: err.Error()}
	}

	outFi, err := out.Stat()
	if err != nil {
		return nil, &migerr.NativeHelperError{Op: "compress_file", Message: err.Error()}
	}

	ratio := 0.0
	if fi.Size() > 0 {
		ratio = float64(outFi.Size()) / float64(fi.Size())
	}
	return &CompressResult{
		InputBytes: fi.Size(), OutputBytes: outFi.Size(), Ratio: ratio,
		DurationMs: time.Since(start).Milliseconds(), Backend: BackendInProcess,
	}, nil
}

func (e *Engine) compressTarGz(src, dst string) (*CompressResult, error) {
	start := time.Now()
	out, err := os.Create(dst)
	if err != nil {
		return nil, &migerr.NativeHelperError{Op: "compress_file", Message: err.Error()}
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	var inputBytes int64
	walkErr := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := io.Copy(tw, f)
		inputBytes += n
		return err
	})
	if walkErr != nil {
		return nil, &migerr.NativeHelperError{Op: "compress_file", Message: walkErr.Error()}
	}
	if err := tw.Close(); err != nil {
		return nil, &migerr.NativeHelperError{Op: "compress_file", Message: err.Error()}
	}
	if err := gw.Close(); err != nil {
		return nil, &migerr.NativeHelperError{Op: "compress_file", Message: err.Error()}
	}

	outFi, err := out.Stat()
	if err != nil {
		return nil, &migerr.NativeHelperError{Op: "compress_file", Message: err.Error()}
	}
	ratio := 0.0
	if inputBytes > 0 {
		ratio = float64(outFi.Size()) / float64(inputBytes)
	}
	return &CompressResult{
		InputBytes: inputBytes, OutputBytes: outFi.Size(), Ratio: ratio,
		DurationMs: time.Since(start).Milliseconds(), Backend: BackendInProcess,
	}, nil
}

// DecompressResult is decompress_file's contract result.
type DecompressResult struct {
	OutputBytes int64
	DurationMs  int64
	Backend     Backend
}

// DecompressFile reverses CompressFile. In-process it handles gzip and
// bzip2 (the standard library ships a bzip2 reader, just no writer); every
// other format, tar.gz included, needs the native helper, so a tar.gz made
// by the in-process CompressFile cannot be unpacked without it.
func (e *Engine) DecompressFile(ctx context.Context, src, dst string, format Format) (*DecompressResult, error) {
	if e.cfg.PreferNative && e.nativeAvailable {
		if r, err := e.decompressNative(ctx, src, dst, format); err == nil {
			return r, nil
		} else if !e.cfg.FallbackOnError {
			return nil, err
		}
	}

	switch format {
	case FormatGzip:
		return e.decompressGzip(src, dst)
	case FormatBzip2:
		return e.decompressBzip2(src, dst)
	default:
		return nil, &migerr.NativeHelperError{Op: "decompress_file", Message: fmt.Sprintf("format %s requires the native helper", format)}
	}
}

func (e *Engine) decompressNative(ctx context.Context, src, dst string, format Format) (*DecompressResult, error) {
	start := time.Now()
	data, err := e.invokeHelper(ctx, "decompress", map[string]string{"src": src, "dst": dst, "format": string(format)})
	if err != nil {
		return nil, err
	}
	r := &DecompressResult{DurationMs: time.Since(start).Milliseconds(), Backend: BackendNative}
	if v, ok := data["output_bytes"].(float64); ok {
		r.OutputBytes = int64(v)
	}
	return r, nil
}

func (e *Engine) decompressGzip(src, dst string) (*DecompressResult, error) {
	start := time.Now()
	in, err := os.Open(src)
	if err != nil {
		return nil, &migerr.NativeHelperError{Op: "decompress_file", Message: err.Error()}
	}
	defer in.Close()

	gr, err := gzip.NewReader(bufio.NewReader(in))
	if err != nil {
		return nil, &migerr.NativeHelperError{Op: "decompress_file", Message: err.Error()}
	}
	defer gr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return nil, &migerr.NativeHelperError{Op: "decompress_file", Message: err.Error()}
	}
	defer out.Close()

	n, err := io.Copy(out, gr)
	if err != nil {
		return nil, &migerr.NativeHelperError{Op: "decompress_file", Message: err.Error()}
	}
	return &DecompressResult{OutputBytes: n, DurationMs: time.Since(start).Milliseconds(), Backend: BackendInProcess}, nil
}

func (e *Engine) decompressBzip2(src, dst string) (*DecompressResult, error) {
	start := time.Now()
	in, err := os.Open(src)
	if err != nil {
		return nil, &migerr.NativeHelperError{Op: "decompress_file", Message: err.Error()}
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return nil, &migerr.NativeHelperError{Op: "decompress_file", Message: err.Error()}
	}
	defer out.Close()

	n, err := io.Copy(out, bzip2.NewReader(in))
	if err != nil {
		return nil, &migerr.NativeHelperError{Op: "decompress_file", Message: err.Error()}
	}
	return &DecompressResult{OutputBytes: n, DurationMs: time.Since(start).Milliseconds(), Backend: BackendInProcess}, nil
}
