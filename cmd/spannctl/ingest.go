package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chroma-core/spannsegment/pkg/types"
	"github.com/spf13/cobra"
)

// vectorRow is one parsed input record: an explicit point id and its
// embedding.
type vectorRow struct {
	ID        uint32
	Embedding []float32
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a CSV or NDJSON file of vectors and commit the segment",
	Long: `Each NDJSON line is a JSON object {"id": <uint32>, "embedding": [<float32>, ...]}.
Each CSV row is "id,v1,v2,...,vN" with an optional header row starting with "id".`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringP("file", "f", "", "Input file (required)")
	ingestCmd.Flags().String("format", "", `Input format: "ndjson" or "csv" (default: inferred from the file extension)`)
	_ = ingestCmd.MarkFlagRequired("file")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	file, _ := cmd.Flags().GetString("file")
	format, _ := cmd.Flags().GetString("format")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	configPath, _ := cmd.Flags().GetString("config")

	if format == "" {
		format = inferFormat(file)
	}

	rows, err := parseVectorFile(file, format)
	if err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("no vectors found in %s", file)
	}
	dim := len(rows[0].Embedding)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	w, provider, err := openSegment(ctx, dataDir, cfg, dim)
	if err != nil {
		return err
	}
	defer provider.Close()

	for _, row := range rows {
		if len(row.Embedding) != dim {
			return fmt.Errorf("point %d: embedding has dim %d, expected %d", row.ID, len(row.Embedding), dim)
		}
		if err := w.Add(ctx, types.PointID(row.ID), types.Embedding(row.Embedding)); err != nil {
			return fmt.Errorf("add point %d: %w", row.ID, err)
		}
	}

	result, err := w.Commit(ctx)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	fmt.Printf("Ingested %d vectors (dim=%d)\n", len(rows), dim)
	printFlushed(result.Flushed)
	return nil
}

func inferFormat(path string) string {
	if strings.HasSuffix(path, ".csv") {
		return "csv"
	}
	return "ndjson"
}

func parseVectorFile(path, format string) ([]vectorRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch format {
	case "csv":
		return parseCSV(f)
	case "ndjson":
		return parseNDJSON(f)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

func parseNDJSON(r io.Reader) ([]vectorRow, error) {
	var out []vectorRow
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec struct {
			ID        uint32    `json:"id"`
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("decode line: %w", err)
		}
		out = append(out, vectorRow{ID: rec.ID, Embedding: rec.Embedding})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseCSV(r io.Reader) ([]vectorRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var out []vectorRow
	first := true
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(record[0]), "id") {
				continue
			}
		}
		id, err := strconv.ParseUint(strings.TrimSpace(record[0]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", record[0], err)
		}
		embedding := make([]float32, len(record)-1)
		for i, field := range record[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
			if err != nil {
				return nil, fmt.Errorf("invalid embedding component %q: %w", field, err)
			}
			embedding[i] = float32(v)
		}
		out = append(out, vectorRow{ID: uint32(id), Embedding: embedding})
	}
	return out, nil
}

func printFlushed(flushed map[string][]string) {
	fmt.Println("Flushed blockfiles:")
	for name, gens := range flushed {
		for _, gen := range gens {
			fmt.Printf("  %-10s %s\n", name, gen)
		}
	}
}
