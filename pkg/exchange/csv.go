package exchange

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// csvHeader is the fixed column set of the flattened CSV view.
var csvHeader = []string{"Archive", "Type", "Name", "Created", "Significance", "Tags"}

// csvCodec flattens documents to their metadata columns. Nested payload
// structure does not survive; decoding rebuilds metadata-only documents.
type csvCodec struct{}

func (csvCodec) Format() Format { return FormatCSV }

func (csvCodec) Encode(w io.Writer, env *Envelope) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("exchange: failed to write csv header: %w", err)
	}

	names := make([]string, 0, len(env.Archives))
	for name := range env.Archives {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, doc := range env.Archives[name] {
			meta := DocumentMetadata(doc)
			row := []string{
				csvEscape(name),
				csvEscape(metaString(meta, "type")),
				csvEscape(metaString(meta, "id")),
				csvEscape(metaString(meta, "created_at")),
				csvEscape(metaString(meta, "significance")),
				csvEscape(metaTags(meta)),
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("exchange: failed to write csv row: %w", err)
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("exchange: failed to flush csv: %w", err)
	}
	return nil
}

func (csvCodec) Decode(r io.Reader) (*Envelope, error) {
	cr := csv.NewReader(r)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("exchange: failed to read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("exchange: csv input is empty")
	}
	if len(rows[0]) != len(csvHeader) || rows[0][0] != csvHeader[0] {
		return nil, fmt.Errorf("exchange: unexpected csv header %v", rows[0])
	}

	env := &Envelope{
		Meta:     EnvelopeMeta{Timestamp: time.Now().UTC(), Format: string(FormatCSV)},
		Archives: map[string][]Document{},
	}
	for _, row := range rows[1:] {
		if len(row) != len(csvHeader) {
			return nil, fmt.Errorf("exchange: csv row has %d columns, want %d", len(row), len(csvHeader))
		}
		archive := csvUnescape(row[0])
		meta := map[string]any{
			"id":         csvUnescape(row[2]),
			"type":       csvUnescape(row[1]),
			"created_at": csvUnescape(row[3]),
		}
		if sig := csvUnescape(row[4]); sig != "" {
			if f, err := strconv.ParseFloat(sig, 64); err == nil {
				meta["significance"] = f
			} else {
				meta["significance"] = sig
			}
		}
		if tags := csvUnescape(row[5]); tags != "" {
			parts := strings.Split(tags, ", ")
			list := make([]any, 0, len(parts))
			for _, p := range parts {
				list = append(list, p)
			}
			meta["tags"] = list
		}
		env.Archives[archive] = append(env.Archives[archive], Document{"metadata": meta})
	}
	return env, nil
}

// metaString renders one metadata field as a cell value.
func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

// metaTags joins the tags list into one cell.
func metaTags(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	list, ok := meta["tags"].([]any)
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(list))
	for _, t := range list {
		parts = append(parts, fmt.Sprintf("%v", t))
	}
	return strings.Join(parts, ", ")
}

// csvEscape guards against spreadsheet formula injection: a leading =, +,
// -, or @ gets a single-quote prefix so the cell stays inert when opened
// in spreadsheet software.
func csvEscape(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@':
		return "'" + s
	}
	return s
}

// csvUnescape reverses csvEscape.
func csvUnescape(s string) string {
	if len(s) >= 2 && s[0] == '\'' {
		switch s[1] {
		case '=', '+', '-', '@':
			return s[1:]
		}
	}
	return s
}
