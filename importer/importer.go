// Package importer feeds NDJSON documents into the bulk processor.
package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-client-kit/api"
	"github.com/pteich/elastic-client-kit/bulk"
	"github.com/pteich/elastic-client-kit/elastic"
	"github.com/pteich/elastic-client-kit/flags"
)

const maxLineSize = 16 * 1024 * 1024

// Summary counts what happened to the lines of one import.
type Summary struct {
	Lines     int
	Skipped   int
	Succeeded int64
	Failed    int64
}

// Run imports conf.Infile into conf.Index.
func Run(ctx context.Context, conf *flags.Flags, es esapi.Transport) error {
	var in io.Reader
	if conf.Infile == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(conf.Infile)
		if err != nil {
			return errors.Wrap(err, "open input file")
		}
		defer f.Close()
		in = f
	}

	opts, err := conf.BulkOptions()
	if err != nil {
		return err
	}

	bar := pb.StartNew(0)
	defer bar.Finish()

	opts = append(opts, bulk.WithListener(bulk.ListenerFuncs{
		After: func(id int64, b *bulk.Batch, res bulk.Result) {
			bar.Add(res.Succeeded)
			for _, f := range res.Failures {
				logFailure(id, f)
			}
		},
		Failed: func(id int64, b *bulk.Batch, err error) {
			log.Error().Err(err).Int64("batch", id).Int("items", b.Len()).Msg("Bulk request failed")
		},
	}))

	p, err := bulk.NewProcessor(es, opts...)
	if err != nil {
		return err
	}

	sum, err := Import(ctx, in, p, conf.Index, conf.IDField)
	log.Info().
		Int("lines", sum.Lines).
		Int("skipped", sum.Skipped).
		Int64("succeeded", sum.Succeeded).
		Int64("failed", sum.Failed).
		Msg("Import finished")
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		return errors.Errorf("%d documents failed", sum.Failed)
	}
	return nil
}

// Import adds every line of r as a document of index and closes p when done. Lines that are not
// JSON objects are skipped. With idField set the document's value of that field becomes its _id.
func Import(ctx context.Context, r io.Reader, p *bulk.Processor, index, idField string) (Summary, error) {
	var sum Summary

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var err error
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		sum.Lines++

		id, ok := documentID(line, idField)
		if !ok {
			log.Warn().Int("line", sum.Lines).Msg("Skipping line that is not a JSON object")
			sum.Skipped++
			continue
		}

		// item failures are reported by the listener
		aerr := p.Add(ctx, api.BulkIndex{Index: index, ID: id, Doc: json.RawMessage(line)})
		if errors.Is(aerr, elastic.ErrProcessorClosed) {
			err = aerr
			break
		}
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
	}
	if err == nil {
		err = errors.Wrap(sc.Err(), "read input")
	}

	if cerr := p.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
		err = cerr
	}

	st := p.Stats()
	sum.Succeeded = st.Succeeded
	sum.Failed = st.Failed
	return sum, err
}

func documentID(line, idField string) (string, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		return "", false
	}
	if idField == "" {
		return "", true
	}

	raw, ok := doc[idField]
	if !ok {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", true
}

func logFailure(batch int64, f elastic.BulkItemFailure) {
	ev := log.Error().Err(f.Err).Int64("batch", batch)
	if item, ok := f.Item.(api.BulkItem); ok {
		index, id := item.Target()
		ev = ev.Str("index", index).Str("id", id)
	}
	ev.Msg("Document rejected")
}
