package publish

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const imageNumberColumn = "ImageNumber"

// Measurements are CellProfiler rows, one per object (or per image when the
// pipeline exports no object table), annotated with plate metadata.
type Measurements []map[string]string

// ReadMeasurements merges the object table onto the image table by
// ImageNumber and stamps each row with meta and experimentID. Metadata
// columns exported by CellProfiler are replaced by the parsed file name
// metadata. objectsPath may be empty.
func ReadMeasurements(imagePath, objectsPath string, meta ImageMetadata, experimentID string) (Measurements, error) {
	images, err := readTable(imagePath)
	if err != nil {
		return nil, err
	}
	byNumber := make(map[string]map[string]string, len(images))
	for _, row := range images {
		byNumber[row[imageNumberColumn]] = row
	}

	var rows Measurements
	if strings.TrimSpace(objectsPath) == "" {
		rows = images
	} else {
		objects, err := readTable(objectsPath)
		if err != nil {
			return nil, err
		}
		for _, obj := range objects {
			for key := range obj {
				if strings.Contains(key, "Metadata") {
					delete(obj, key)
				}
			}
			if img, ok := byNumber[obj[imageNumberColumn]]; ok {
				for key, value := range img {
					if _, clash := obj[key]; clash && key != imageNumberColumn {
						key += "_image"
					}
					if _, exists := obj[key]; !exists {
						obj[key] = value
					}
				}
			}
			rows = append(rows, obj)
		}
	}

	for _, row := range rows {
		delete(row, imageNumberColumn)
		row["Metadata_DateString"] = meta.DateString()
		row["Metadata_Plate"] = meta.PlateBarcode
		row["Metadata_Well"] = meta.Well()
		row["Experiment ID"] = experimentID
	}
	return rows, nil
}

func readTable(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open measurements: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty table", path)
		}
		return nil, fmt.Errorf("%s: read header: %w", path, err)
	}
	var out []map[string]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		out = append(out, row)
	}
	return out, nil
}
