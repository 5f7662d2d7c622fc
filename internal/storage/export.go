package storage

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/dynopt/internal/trajectory"
)

type exportData struct {
	*trajectory.Result
	Time   []float64            `json:"time"`
	Series map[string][]float64 `json:"series"`
}

// ExportJSON writes the whole result, signals included, as one document.
func ExportJSON(w io.Writer, res *trajectory.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(exportData{Result: res, Time: res.Time, Series: res.Series})
}

func ExportJSONFile(path string, res *trajectory.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ExportJSON(f, res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
