package publish

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ImageMetadata is what a Celigo export encodes in its file name, e.g.
// 3500003797_Scan_2022-02-04-at-14-36-39_Well_A1_Ch1_1um.tiff.
type ImageMetadata struct {
	PlateBarcode string `json:"plate_barcode"`
	ScanDate     string `json:"scan_date"`
	ScanTime     string `json:"scan_time"`
	Row          string `json:"row"`
	Column       string `json:"column"`
}

// Well returns the well name, such as A1.
func (m ImageMetadata) Well() string {
	return m.Row + m.Column
}

// DateString joins scan date and time the way the measurement tables expect.
func (m ImageMetadata) DateString() string {
	return strings.TrimSpace(m.ScanDate + " " + m.ScanTime)
}

// ParseFilename extracts plate, scan timestamp, and well from a Celigo file
// name. Fields are underscore separated: barcode, scan label, timestamp
// (date-at-time, dash separated), well label, well.
func ParseFilename(path string) (ImageMetadata, error) {
	name := filepath.Base(strings.ReplaceAll(path, "\\", "/"))
	fields := strings.Split(name, "_")
	if len(fields) < 5 {
		return ImageMetadata{}, fmt.Errorf("celigo file name %q: expected at least 5 underscore fields, got %d", name, len(fields))
	}
	ts := strings.Split(fields[2], "-")
	if len(ts) < 7 {
		return ImageMetadata{}, fmt.Errorf("celigo file name %q: timestamp %q has %d parts, want 7", name, fields[2], len(ts))
	}
	well := strings.TrimSuffix(fields[4], filepath.Ext(fields[4]))
	if len(well) < 2 {
		return ImageMetadata{}, fmt.Errorf("celigo file name %q: well %q too short", name, well)
	}
	return ImageMetadata{
		PlateBarcode: fields[0],
		ScanDate:     strings.Join(ts[0:3], "-"),
		ScanTime:     strings.Join(ts[4:7], "-"),
		Row:          well[:1],
		Column:       well[1:],
	}, nil
}
