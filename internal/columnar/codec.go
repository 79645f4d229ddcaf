package columnar

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

const columnsMetadataKey = "billingest.columns"

// ErrNoColumns is returned when encoding a table without any columns.
var ErrNoColumns = errors.New("columnar: table has no columns")

// ErrMalformed marks content that could be read but not decoded.
var ErrMalformed = errors.New("columnar: malformed file")

// Options tunes encoding.
type Options struct {
	Compression string
}

// CodecFor maps a configured compression name onto a parquet codec.
func CodecFor(name string) (compress.Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zstd":
		return &parquet.Zstd, nil
	case "snappy":
		return &parquet.Snappy, nil
	case "gzip":
		return &parquet.Gzip, nil
	case "none", "uncompressed":
		return &parquet.Uncompressed, nil
	default:
		return nil, fmt.Errorf("columnar: unsupported compression %q", name)
	}
}

// Encode writes table to w.
func Encode(w io.Writer, table Table, opts Options) error {
	if len(table.Columns) == 0 {
		return ErrNoColumns
	}
	codec, err := CodecFor(opts.Compression)
	if err != nil {
		return err
	}

	sorted := append([]string(nil), table.Columns...)
	sort.Strings(sorted)
	group := make(parquet.Group, len(sorted))
	for _, col := range sorted {
		group[col] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("record", group)

	order, err := json.Marshal(table.Columns)
	if err != nil {
		return fmt.Errorf("columnar: encode column order: %w", err)
	}

	writer := parquet.NewWriter(w,
		schema,
		parquet.Compression(codec),
		parquet.KeyValueMetadata(columnsMetadataKey, string(order)),
	)

	rows := make([]parquet.Row, 0, len(table.Records))
	for _, rec := range table.Records {
		row := make(parquet.Row, len(sorted))
		for i, col := range sorted {
			value, ok := rec[col]
			if !ok {
				row[i] = parquet.NullValue().Level(0, 0, i)
				continue
			}
			row[i] = parquet.ByteArrayValue([]byte(value)).Level(0, 1, i)
		}
		rows = append(rows, row)
	}
	if len(rows) > 0 {
		if _, err := writer.WriteRows(rows); err != nil {
			_ = writer.Close()
			return fmt.Errorf("columnar: write rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("columnar: close writer: %w", err)
	}
	return nil
}

// Decode reads a table previously produced by Encode, or any flat parquet file
// whose leaf columns are byte arrays.
func Decode(r io.ReaderAt, size int64) (Table, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return Table{}, fmt.Errorf("columnar: open: %w", err)
	}

	fields := file.Schema().Fields()
	names := make([]string, len(fields))
	for i, field := range fields {
		names[i] = field.Name()
	}

	table := Table{Columns: names}
	if raw, ok := file.Lookup(columnsMetadataKey); ok {
		var order []string
		if err := json.Unmarshal([]byte(raw), &order); err == nil && len(order) == len(names) {
			table.Columns = order
		}
	}

	buf := make([]parquet.Row, 128)
	for _, group := range file.RowGroups() {
		rows := group.Rows()
		for {
			n, readErr := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				rec := make(Record, len(row))
				for _, v := range row {
					if v.IsNull() {
						continue
					}
					col := v.Column()
					if col < 0 || col >= len(names) {
						continue
					}
					rec[names[col]] = string(v.ByteArray())
				}
				table.Records = append(table.Records, rec)
			}
			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					break
				}
				_ = rows.Close()
				return Table{}, fmt.Errorf("columnar: read rows: %w", readErr)
			}
			if n == 0 {
				break
			}
		}
		if err := rows.Close(); err != nil {
			return Table{}, fmt.Errorf("columnar: close rows: %w", err)
		}
	}
	return table, nil
}

// WriteFile encodes table and atomically replaces path with the result.
func WriteFile(path string, table Table, opts Options) error {
	var buf bytes.Buffer
	if err := Encode(&buf, table, opts); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename %s to %s: %w", tmpPath, path, err)
	}
	return nil
}

// ReadFile decodes the table stored at path.
func ReadFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Table{}, fmt.Errorf("stat %s: %w", path, err)
	}
	table, err := Decode(f, info.Size())
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w: %w", path, ErrMalformed, err)
	}
	return table, nil
}
