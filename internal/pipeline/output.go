package pipeline

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/banshee-data/nanotrack/internal/diffusion"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// WriteCSV writes the report rows with a header line.
func (rep *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"track_id", "steps", "start_frame", "end_frame", "d_px2_per_s", "d_um2_per_s", "diameter_nm", "median_hue"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rep.Rows {
		row := []string{
			strconv.Itoa(r.TrackID),
			strconv.Itoa(r.Steps),
			strconv.Itoa(r.StartFrame),
			strconv.Itoa(r.EndFrame),
			formatFloat(r.DPx),
			formatFloat(r.DMicron2),
			formatFloat(r.DiameterNm),
			formatFloat(r.MedianHue),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteHistogramCSV writes histogram bins as center,weight rows.
func WriteHistogramCSV(w io.Writer, bins []diffusion.Bin) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"bin_center", "probability"}); err != nil {
		return err
	}
	for _, b := range bins {
		if err := cw.Write([]string{formatFloat(b.Center), formatFloat(b.Weight)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
