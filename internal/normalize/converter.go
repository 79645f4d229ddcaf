package normalize

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"billingest/internal/columnar"
	"billingest/internal/services"
)

// Converter is the built-in CSV normalizer.
type Converter struct {
	// DateColumns are candidate source columns for the row date, in priority
	// order. They are matched after header sanitization.
	DateColumns []string
	// CostColumns are canonicalized as decimals when present.
	CostColumns []string
	Compression string
}

// Normalize converts inputPath into a parquet intermediate under outputDir.
func (c *Converter) Normalize(ctx context.Context, inputPath, outputDir string) (string, error) {
	table, err := c.Convert(ctx, inputPath)
	if err != nil {
		return "", err
	}
	out := OutputPath(outputDir, inputPath)
	if err := columnar.WriteFile(out, table, columnar.Options{Compression: c.Compression}); err != nil {
		return "", fmt.Errorf("write intermediate %s: %w", out, err)
	}
	return out, nil
}

// Convert parses inputPath and returns the normalized table without writing it.
func (c *Converter) Convert(ctx context.Context, inputPath string) (columnar.Table, error) {
	name := filepath.Base(inputPath)
	conversionErr := func(message string, err error) error {
		return services.Wrap(services.ErrConversion, "normalize", name, message, err)
	}

	in, err := openInput(inputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return columnar.Table{}, err
		}
		return columnar.Table{}, conversionErr("open input", err)
	}
	defer in.Close()

	br := bufio.NewReaderSize(in, 64*1024)
	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(br)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	rawHeader, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return columnar.Table{}, conversionErr("file is empty", nil)
		}
		return columnar.Table{}, conversionErr("read header", err)
	}
	headers := SanitizeHeaders(append([]string(nil), rawHeader...))

	dateIdx := c.findColumn(headers, c.DateColumns)
	if dateIdx < 0 {
		return columnar.Table{}, conversionErr(
			fmt.Sprintf("none of the date columns %v present", c.DateColumns), nil)
	}
	costIdx := make(map[int]struct{})
	for _, candidate := range c.CostColumns {
		if idx := c.findColumn(headers, []string{candidate}); idx >= 0 {
			costIdx[idx] = struct{}{}
		}
	}
	if idx := indexOf(headers, PeriodColumn); idx >= 0 {
		return columnar.Table{}, conversionErr(
			fmt.Sprintf("source already has a %s column", PeriodColumn), nil)
	}

	table := columnar.Table{Columns: append(append([]string(nil), headers...), PeriodColumn)}
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return columnar.Table{}, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return columnar.Table{}, conversionErr(fmt.Sprintf("line %d", line), err)
		}
		if blankRecord(record) {
			continue
		}
		if len(record) > len(headers) {
			return columnar.Table{}, conversionErr(
				fmt.Sprintf("line %d has %d fields, header has %d", line, len(record), len(headers)), nil)
		}

		rec := make(columnar.Record, len(headers)+1)
		for i, value := range record {
			rec[headers[i]] = value
		}
		if dateIdx >= len(record) {
			return columnar.Table{}, conversionErr(fmt.Sprintf("line %d is missing %s", line, headers[dateIdx]), nil)
		}
		ts, err := ParseDate(record[dateIdx])
		if err != nil {
			return columnar.Table{}, conversionErr(
				fmt.Sprintf("line %d: parse %s %q", line, headers[dateIdx], record[dateIdx]), err)
		}
		rec[headers[dateIdx]] = ts.Format("2006-01-02T15:04:05Z07:00")
		rec[PeriodColumn] = Period(ts)
		for idx := range costIdx {
			if idx >= len(record) {
				continue
			}
			cost, err := NormalizeCost(record[idx])
			if err != nil {
				return columnar.Table{}, conversionErr(
					fmt.Sprintf("line %d: parse %s %q", line, headers[idx], record[idx]), err)
			}
			rec[headers[idx]] = cost
		}
		table.Records = append(table.Records, rec)
	}

	if len(table.Records) == 0 {
		return columnar.Table{}, conversionErr("no data rows", nil)
	}
	return table, nil
}

func (c *Converter) findColumn(headers []string, candidates []string) int {
	for _, candidate := range candidates {
		if idx := indexOf(headers, SanitizeName(candidate)); idx >= 0 {
			return idx
		}
	}
	return -1
}

func indexOf(values []string, target string) int {
	if target == "" {
		return -1
	}
	for i, v := range values {
		if v == target {
			return i
		}
	}
	return -1
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
