package audit

import (
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// parquetRecord is the flattened, analytics-friendly row schema for the
// audit stream export.
type parquetRecord struct {
	RecordID string `parquet:"name=record_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ThreadID string `parquet:"name=thread_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind     string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Payload  string `parquet:"name=payload, type=BYTE_ARRAY, convertedtype=UTF8"`
	TsNs     int64  `parquet:"name=ts_ns, type=INT64"`
}

// ExportParquet writes records as a Snappy-compressed Parquet file at path,
// for offline analytics over the audit stream.
func ExportParquet(path string, records []Record) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRecord), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 64 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		payload := string(rec.Payload)
		if payload == "" {
			payload = "{}"
		}
		pr := &parquetRecord{
			RecordID: rec.RecordID,
			ThreadID: rec.ThreadID,
			Kind:     string(rec.Kind),
			Payload:  payload,
			TsNs:     rec.TsNs,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet file: %w", err)
	}
	return nil
}
