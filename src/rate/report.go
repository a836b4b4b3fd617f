package rate

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hjson/hjson-go/v4"
	"github.com/olekukonko/tablewriter"
)

// Format selects how a Report is written.
type Format string

const (
	FormatText  Format = "text"
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatHJSON Format = "hjson"
)

// ParseFormat accepts any of the known formats, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatTable, FormatJSON, FormatHJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// Report is the outcome of one transfer as shown to the user.
type Report struct {
	Direction string   `json:"direction"`
	Local     string   `json:"local"`
	Remote    string   `json:"remote"`
	Bytes     DataUnit `json:"bytes"`
	Seconds   float64  `json:"seconds"`
	Rate      float64  `json:"rate_mib_s"`
	End       string   `json:"end"`
	Error     string   `json:"error,omitempty"`
}

// NewReport fills a report from a finished measurement. The direction is
// "rx" or "tx".
func NewReport(direction string, m *Measurement) *Report {
	return &Report{
		Direction: direction,
		Bytes:     DataUnit(m.Bytes),
		Seconds:   m.Elapsed().Seconds(),
		Rate:      m.Rate(),
	}
}

// Line is the single-line form, e.g. "rx rate 112.34MiB/s".
func (r *Report) Line() string {
	return fmt.Sprintf("%s rate %.2fMiB/s", r.Direction, r.Rate)
}

// Write renders the report to w in the given format.
func (r *Report) Write(w io.Writer, format Format) error {
	switch format {
	case FormatText, "":
		_, err := fmt.Fprintln(w, r.Line())
		return err

	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetAutoFormatHeaders(false)
		table.SetCenterSeparator("")
		table.SetColumnSeparator("")
		table.SetRowSeparator("")
		table.SetHeaderLine(false)
		table.SetBorder(false)
		table.SetTablePadding("\t")
		table.SetNoWhiteSpace(true)
		table.SetAutoWrapText(false)
		table.Append([]string{"Direction:", r.Direction})
		table.Append([]string{"Local address:", r.Local})
		table.Append([]string{"Remote address:", r.Remote})
		table.Append([]string{"Transferred:", fmt.Sprintf("%s (%s bytes)", r.Bytes, humanize.Comma(int64(r.Bytes)))})
		table.Append([]string{"Elapsed:", (time.Duration(r.Seconds * float64(time.Second))).Round(time.Millisecond).String()})
		table.Append([]string{"Rate:", fmt.Sprintf("%.2fMiB/s", r.Rate)})
		table.Append([]string{"End:", r.End})
		if r.Error != "" {
			table.Append([]string{"Error:", r.Error})
		}
		table.Render()
		return nil

	case FormatJSON:
		bs, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(bs))
		return err

	case FormatHJSON:
		bs, err := hjson.Marshal(r)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(bs))
		return err
	}
	return fmt.Errorf("unknown report format %q", format)
}
