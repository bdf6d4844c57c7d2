package journal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

var csvHeader = []string{"timestamp", "action", "quantity", "price", "pnl"}

// CSV appends trade events to a file, writing the header only when the file
// is new or empty.
type CSV struct {
	file   *os.File
	writer *csv.Writer
}

func NewCSV(path string) (*CSV, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	j := &CSV{file: file, writer: csv.NewWriter(file)}
	if info.Size() == 0 {
		if err := j.write(csvHeader); err != nil {
			_ = file.Close()
			return nil, err
		}
	}
	return j, nil
}

func (j *CSV) Record(e Event) error {
	return j.write([]string{
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.Action),
		e.Quantity.String(),
		e.Price.String(),
		e.PnL.String(),
	})
}

func (j *CSV) write(record []string) error {
	if err := j.writer.Write(record); err != nil {
		return err
	}
	j.writer.Flush()
	return j.writer.Error()
}

func (j *CSV) Close() error {
	j.writer.Flush()
	if err := j.writer.Error(); err != nil {
		_ = j.file.Close()
		return err
	}
	return j.file.Close()
}

// SumRealized adds up the pnl column of a trade log written by CSV. A missing
// file sums to zero.
func SumRealized(path string) (decimal.Decimal, int, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return decimal.Zero, 0, nil
	}
	if err != nil {
		return decimal.Zero, 0, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(csvHeader)
	total := decimal.Zero
	count := 0
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, count, fmt.Errorf("read %s line %d: %w", path, line, err)
		}
		if line == 1 && record[0] == csvHeader[0] {
			continue
		}
		pnl, err := decimal.NewFromString(record[4])
		if err != nil {
			return total, count, fmt.Errorf("parse pnl on %s line %d: %w", path, line, err)
		}
		total = total.Add(pnl)
		count++
	}
	return total, count, nil
}
