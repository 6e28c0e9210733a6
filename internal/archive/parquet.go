package archive

import (
	"time"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/sawpanic/scouter/internal/persistence"
	"github.com/sawpanic/scouter/internal/scouterrors"
)

// Parquet row shapes, one per record type. Timestamps are stored as
// nanoseconds since the epoch; identity columns are repeated per row so a
// parquet object is self-describing without its key.

type spcParquetRow struct {
	CreatedAt int64   `parquet:"name=created_at, type=INT64, logicaltype=TIMESTAMP, logicaltype.isadjustedtoutc=true, logicaltype.unit=NANOS"`
	Space     string  `parquet:"name=space, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Name      string  `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Version   string  `parquet:"name=version, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Feature   string  `parquet:"name=feature, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Value     float64 `parquet:"name=value, type=DOUBLE"`
}

type psiParquetRow struct {
	CreatedAt int64  `parquet:"name=created_at, type=INT64, logicaltype=TIMESTAMP, logicaltype.isadjustedtoutc=true, logicaltype.unit=NANOS"`
	Space     string `parquet:"name=space, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Name      string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Version   string `parquet:"name=version, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Feature   string `parquet:"name=feature, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	BinID     int64  `parquet:"name=bin_id, type=INT64, convertedtype=UINT_64"`
	BinCount  int64  `parquet:"name=bin_count, type=INT64, convertedtype=UINT_64"`
}

type customParquetRow struct {
	CreatedAt int64   `parquet:"name=created_at, type=INT64, logicaltype=TIMESTAMP, logicaltype.isadjustedtoutc=true, logicaltype.unit=NANOS"`
	Space     string  `parquet:"name=space, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Name      string  `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Version   string  `parquet:"name=version, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Metric    string  `parquet:"name=metric, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Value     float64 `parquet:"name=value, type=DOUBLE"`
}

const parquetParallelism = 2

func writeParquet[T any](rows []T, template T) ([]byte, error) {
	const op = "archive.writeParquet"
	bf := buffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(bf, &template, parquetParallelism)
	if err != nil {
		return nil, scouterrors.New(scouterrors.KindInternal, op, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return nil, scouterrors.New(scouterrors.KindInternal, op, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, scouterrors.New(scouterrors.KindInternal, op, err)
	}
	if err := bf.Close(); err != nil {
		return nil, scouterrors.New(scouterrors.KindInternal, op, err)
	}
	return bf.Bytes(), nil
}

func readParquet[T any](data []byte, template T) ([]T, error) {
	const op = "archive.readParquet"
	bf := buffer.NewBufferFileFromBytes(data)
	pr, err := reader.NewParquetReader(bf, &template, parquetParallelism)
	if err != nil {
		return nil, scouterrors.New(scouterrors.KindInternal, op, err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]T, n)
	if n > 0 {
		if err := pr.Read(&rows); err != nil {
			return nil, scouterrors.New(scouterrors.KindInternal, op, err)
		}
	}
	return rows, nil
}

// EncodeSpc serializes SPC rows for one entity into parquet bytes.
func EncodeSpc(ent persistence.Entity, rows []persistence.SpcRow) ([]byte, error) {
	out := make([]spcParquetRow, len(rows))
	for i, r := range rows {
		out[i] = spcParquetRow{
			CreatedAt: r.CreatedAt.UTC().UnixNano(),
			Space:     ent.Space, Name: ent.Name, Version: ent.Version,
			Feature: r.Feature, Value: r.Value,
		}
	}
	return writeParquet(out, spcParquetRow{})
}

// DecodeSpc deserializes one parquet object back into rows; entityID
// restores the relational key the parquet schema does not carry.
func DecodeSpc(data []byte, entityID int64) ([]persistence.SpcRow, error) {
	raw, err := readParquet(data, spcParquetRow{})
	if err != nil {
		return nil, err
	}
	rows := make([]persistence.SpcRow, len(raw))
	for i, r := range raw {
		rows[i] = persistence.SpcRow{
			EntityID:  entityID,
			CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
			Feature:   r.Feature,
			Value:     r.Value,
		}
	}
	return rows, nil
}

// EncodePsi serializes PSI rows for one entity into parquet bytes.
func EncodePsi(ent persistence.Entity, rows []persistence.PsiRow) ([]byte, error) {
	out := make([]psiParquetRow, len(rows))
	for i, r := range rows {
		out[i] = psiParquetRow{
			CreatedAt: r.CreatedAt.UTC().UnixNano(),
			Space:     ent.Space, Name: ent.Name, Version: ent.Version,
			Feature: r.Feature, BinID: int64(r.BinID), BinCount: int64(r.BinCount),
		}
	}
	return writeParquet(out, psiParquetRow{})
}

// DecodePsi deserializes one parquet object back into rows.
func DecodePsi(data []byte, entityID int64) ([]persistence.PsiRow, error) {
	raw, err := readParquet(data, psiParquetRow{})
	if err != nil {
		return nil, err
	}
	rows := make([]persistence.PsiRow, len(raw))
	for i, r := range raw {
		rows[i] = persistence.PsiRow{
			EntityID:  entityID,
			CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
			Feature:   r.Feature,
			BinID:     uint64(r.BinID),
			BinCount:  uint64(r.BinCount),
		}
	}
	return rows, nil
}

// EncodeCustom serializes custom-metric rows for one entity into parquet
// bytes.
func EncodeCustom(ent persistence.Entity, rows []persistence.CustomRow) ([]byte, error) {
	out := make([]customParquetRow, len(rows))
	for i, r := range rows {
		out[i] = customParquetRow{
			CreatedAt: r.CreatedAt.UTC().UnixNano(),
			Space:     ent.Space, Name: ent.Name, Version: ent.Version,
			Metric: r.Metric, Value: r.Value,
		}
	}
	return writeParquet(out, customParquetRow{})
}

// DecodeCustom deserializes one parquet object back into rows.
func DecodeCustom(data []byte, entityID int64) ([]persistence.CustomRow, error) {
	raw, err := readParquet(data, customParquetRow{})
	if err != nil {
		return nil, err
	}
	rows := make([]persistence.CustomRow, len(raw))
	for i, r := range raw {
		rows[i] = persistence.CustomRow{
			EntityID:  entityID,
			CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
			Metric:    r.Metric,
			Value:     r.Value,
		}
	}
	return rows, nil
}
