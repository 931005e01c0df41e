package formats

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-client-kit/api"
)

var lineBreaks = regexp.MustCompile(`\x{000D}\x{000A}|[\x{000A}\x{000B}\x{000C}\x{000D}\x{0085}\x{2028}\x{2029}]`)

// CSV converts hits into rows with Workers goroutines. Nested fields are addressed with dots, e.g. user.name.
type CSV struct {
	Fields      []string
	Outfile     io.Writer
	Workers     int
	ProgressBar *pb.ProgressBar
}

func (c CSV) Run(ctx context.Context, hits <-chan *api.SearchHit) error {
	g, ctx := errgroup.WithContext(ctx)

	csvout := make(chan []string, c.Workers)
	written := make(chan error, 1)
	go func() {
		written <- c.write(csvout)
	}()

	for i := 0; i < max(c.Workers, 1); i++ {
		g.Go(func() error {
			for hit := range hits {
				var document map[string]interface{}
				if err := json.Unmarshal(hit.Source, &document); err != nil {
					log.Warn().Err(err).Str("id", hit.ID).Msg("Error unmarshal JSON from ElasticSearch")
					continue
				}

				// send string array to csv output
				select {
				case csvout <- c.row(flatten(document)):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	err := g.Wait()
	close(csvout)
	if werr := <-written; err == nil {
		err = werr
	}
	return err
}

// write drains rows and keeps draining after a write error so no worker blocks.
func (c CSV) write(rows <-chan []string) error {
	w := csv.NewWriter(c.Outfile)

	var werr error
	if len(c.Fields) > 0 {
		werr = w.Write(c.Fields)
	}

	for row := range rows {
		if werr != nil {
			continue
		}
		if werr = w.Write(row); werr == nil {
			w.Flush()
			werr = w.Error()
		}
		increment(c.ProgressBar)
	}

	w.Flush()
	if werr == nil {
		werr = w.Error()
	}
	return errors.Wrap(werr, "write csv")
}

// row picks the configured fields, or all top level fields in name order when none are set.
func (c CSV) row(document map[string]interface{}) []string {
	fields := c.Fields
	if len(fields) == 0 {
		for k, v := range document {
			if _, nested := v.(map[string]interface{}); !nested && !strings.Contains(k, ".") {
				fields = append(fields, k)
			}
		}
		sort.Strings(fields)
	}

	row := make([]string, 0, len(fields))
	for _, field := range fields {
		row = append(row, formatValue(document[field]))
	}
	return row
}

func formatValue(val interface{}) string {
	switch val := val.(type) {
	case nil:
		return ""
	case float64:
		d := int64(val)
		if val == float64(d) {
			return fmt.Sprintf("%d", d)
		}
		return fmt.Sprintf("%f", val)
	case string:
		return lineBreaks.ReplaceAllString(val, ``)
	}
	return lineBreaks.ReplaceAllString(fmt.Sprintf("%v", val), ``)
}

// flatten adds a dotted key for every value in nested objects, keeping the original keys.
func flatten(document map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(document))
	flattenInto(out, "", document)
	return out
}

func flattenInto(out map[string]interface{}, prefix string, document map[string]interface{}) {
	for k, v := range document {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		out[key] = v
		if m, ok := v.(map[string]interface{}); ok {
			flattenInto(out, key, m)
		}
	}
}
