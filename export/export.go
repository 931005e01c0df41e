// Package export streams all documents matching a query into a file.
package export

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-client-kit/api"
	"github.com/pteich/elastic-client-kit/elastic"
	"github.com/pteich/elastic-client-kit/flags"
	"github.com/pteich/elastic-client-kit/formats"
	"github.com/pteich/elastic-client-kit/scroll"
)

const workers = 8

// Client is what an export needs from a session: typed requests for counting and esapi requests
// for the scroll protocol.
type Client interface {
	elastic.Executor
	esapi.Transport
}

// Run counts the matching documents, then scrolls through them and hands every hit to the
// configured formatter.
func Run(ctx context.Context, conf *flags.Flags, es Client) error {
	if conf.Fieldlist != "" {
		conf.Fields = strings.Split(conf.Fieldlist, ",")
	}
	keepAlive, err := conf.ScrollKeepAlive()
	if err != nil {
		return err
	}

	var outfile io.Writer
	if conf.Outfile == "-" {
		outfile = os.Stdout
	} else {
		f, err := os.Create(conf.Outfile)
		if err != nil {
			return errors.Wrap(err, "create output file")
		}
		defer f.Close()
		outfile = f
	}

	query := api.Filter{
		TimeField: conf.Timefield,
		Start:     conf.StartDate,
		End:       conf.EndDate,
		RawQuery:  conf.RAWQuery,
		Query:     conf.Query,
	}.Build()

	indices := strings.Split(conf.Index, ",")
	total, err := api.Count(indices...).Query(query).Do(ctx, es)
	if err != nil {
		return errors.Wrap(err, "count documents")
	}
	log.Debug().Int64("total", total).Strs("index", indices).Msg("Starting export")

	cursor, err := scroll.Open(ctx, es, scroll.Config{
		Index:     indices,
		Query:     query,
		Size:      conf.ScrollSize,
		KeepAlive: keepAlive,
		Fields:    conf.Fields,
	})
	if err != nil {
		return errors.Wrap(err, "open scroll")
	}

	bar := pb.StartNew(int(total))
	defer bar.Finish()

	g, ctx := errgroup.WithContext(ctx)
	hits := make(chan *api.SearchHit)

	g.Go(func() error {
		defer close(hits)

		return cursor.Each(ctx, func(page []*api.SearchHit) error {
			for _, hit := range page {
				select {
				case hits <- hit:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	})

	var output formats.Formatter
	switch conf.OutFormat {
	case flags.FormatJSON:
		output = formats.JSON{Outfile: outfile, ProgressBar: bar}
	case flags.FormatRAW:
		output = formats.Raw{Outfile: outfile, ProgressBar: bar}
	default:
		output = formats.CSV{Fields: conf.Fields, Outfile: outfile, Workers: workers, ProgressBar: bar}
	}

	g.Go(func() error {
		if err := output.Run(ctx, hits); err != nil {
			return errors.Wrap(err, "write output")
		}
		return nil
	})

	return g.Wait()
}
