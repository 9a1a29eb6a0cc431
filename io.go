package mcnnm

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a numeric CSV table with optional column names.
type Matrix struct {
	M       *mat.Dense
	Columns []string // nil when the file had no header
}

// LoadMatrixCSV reads a CSV file of numbers:
//
//   - If header is true, the first row holds column names
//   - Every remaining row is one matrix row; all rows must have the same width
//   - Blank lines are skipped
func LoadMatrixCSV(path string, header bool) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	m, err := ReadMatrixCSV(f, header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ReadMatrixCSV is LoadMatrixCSV over an io.Reader.
func ReadMatrixCSV(src io.Reader, header bool) (*Matrix, error) {
	r := csv.NewReader(src)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	out := &Matrix{}
	line := 1
	if header {
		names, err := r.Read()
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		out.Columns = names
		line++
	}

	var (
		data []float64
		cols = len(out.Columns)
		rows int
	)
	for ; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		if len(record) == 1 && record[0] == "" {
			continue
		}
		if cols == 0 {
			cols = len(record)
		}
		if len(record) != cols {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", line, cols, len(record))
		}
		for j, s := range record {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("parse float at row %d col %d (%q): %w", line, j+1, s, err)
			}
			data = append(data, v)
		}
		rows++
	}
	if rows == 0 {
		return nil, fmt.Errorf("no data rows")
	}
	out.M = mat.NewDense(rows, cols, data)
	return out, nil
}

// WriteMatrixCSV writes m row by row, preceded by columns when non-nil.
func WriteMatrixCSV(dst io.Writer, m mat.Matrix, columns []string) error {
	w := csv.NewWriter(dst)
	if columns != nil {
		if err := w.Write(columns); err != nil {
			return err
		}
	}
	r, c := m.Dims()
	record := make([]string, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			record[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// SaveMatrixCSV writes m to path, creating or truncating the file.
func SaveMatrixCSV(path string, m mat.Matrix, columns []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteMatrixCSV(f, m, columns); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// SaveVectorCSV writes v as a single named column.
func SaveVectorCSV(path, name string, v []float64) error {
	if len(v) == 0 {
		return nil
	}
	return SaveMatrixCSV(path, mat.NewDense(len(v), 1, append([]float64(nil), v...)), []string{name})
}

// PrintResult writes a human-readable summary of res.
func PrintResult(w io.Writer, res *Result) {
	fmt.Fprintln(w, "=== MC-NNM estimate ===")
	if res.Tau != nil {
		fmt.Fprintf(w, "tau        %v\n", *res.Tau)
	}
	if res.LambdaL != nil && res.LambdaH != nil {
		fmt.Fprintf(w, "lambda_L   %v\nlambda_H   %v\n", *res.LambdaL, *res.LambdaH)
	}
	fmt.Fprintf(w, "fit        %s after %d iterations (last change %.3g)\n", res.Status, res.Iterations, res.Change)
	if res.L != nil {
		fmt.Fprintf(w, "nuclear norm of L  %.6g\n", NuclearNorm(res.L))
	}
	if len(res.Beta) > 0 {
		fmt.Fprintf(w, "beta       %v\n", res.Beta)
	}
}
