// Package gazetteer loads the pipe-delimited NOAA county reference dataset
// used to turn free-text locations into coordinates for zone resolution.
package gazetteer

import (
	"bufio"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Schema describes the column layout of a dataset revision. Historical
// revisions disagree on where the county name lives (index 3 vs index 5),
// so the indices are fixed here once instead of scattered through the
// matching code.
type Schema struct {
	// FieldCount is the expected number of pipe-delimited fields per row.
	FieldCount int

	// State is the index of the two-letter state code.
	State int

	// ZoneName is the index of the zone display name.
	ZoneName int

	// County is the index of the county name.
	County int

	// Latitude and Longitude are the indices of the zone centroid.
	Latitude  int
	Longitude int
}

// DefaultSchema matches the bp08mr23 county dataset revision.
var DefaultSchema = Schema{
	FieldCount: 11,
	State:      0,
	ZoneName:   3,
	County:     5,
	Latitude:   9,
	Longitude:  10,
}

// Record is one row of the reference dataset. All fields are kept as the
// dataset provides them, upper-casing happens at match time.
type Record struct {
	State     string
	ZoneName  string
	County    string
	Latitude  string
	Longitude string
}

// Gazetteer is the loaded, immutable reference table. It is built once at
// plugin activation and only read afterward.
type Gazetteer struct {
	records []Record
}

// Parse reads pipe-delimited rows from r using the given schema. Rows with
// the wrong field count are skipped; a dataset revision occasionally carries
// header or trailer junk and one bad row must not poison the table.
func Parse(r io.Reader, schema Schema) (*Gazetteer, error) {
	g := &Gazetteer{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		parts := strings.Split(strings.TrimSpace(scanner.Text()), "|")
		if len(parts) != schema.FieldCount {
			continue
		}

		g.records = append(g.records, Record{
			State:     parts[schema.State],
			ZoneName:  parts[schema.ZoneName],
			County:    parts[schema.County],
			Latitude:  parts[schema.Latitude],
			Longitude: parts[schema.Longitude],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read gazetteer data")
	}

	return g, nil
}

// LoadFile parses a dataset from local storage.
func LoadFile(path string, schema Schema) (*Gazetteer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open gazetteer file %s", path)
	}
	defer f.Close()

	return Parse(f, schema)
}

// Fetch downloads and parses a dataset from a URL.
func Fetch(url string, schema Schema) (*Gazetteer, error) {
	client := &http.Client{Timeout: 60 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch gazetteer from %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("gazetteer fetch returned status %d", resp.StatusCode)
	}

	return Parse(resp.Body, schema)
}

// Load fetches from source when it looks like a URL and otherwise reads it
// as a local path.
func Load(source string, schema Schema) (*Gazetteer, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return Fetch(source, schema)
	}
	return LoadFile(source, schema)
}

// Len reports the number of loaded records.
func (g *Gazetteer) Len() int {
	return len(g.records)
}

// Match returns every record whose state equals state and whose county name
// contains county, both compared upper-cased. Substring matching on the
// county is deliberate: it lets users type partial names, at the cost of
// false positives for short inputs.
func (g *Gazetteer) Match(county, state string) []Record {
	county = strings.ToUpper(strings.TrimSpace(county))
	state = strings.ToUpper(strings.TrimSpace(state))

	var matches []Record
	for _, record := range g.records {
		if strings.ToUpper(record.State) != state {
			continue
		}
		if !strings.Contains(strings.ToUpper(record.County), county) {
			continue
		}
		matches = append(matches, record)
	}

	return matches
}
