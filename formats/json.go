package formats

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-client-kit/api"
)

// JSON writes the _source of every hit as one line.
type JSON struct {
	Outfile     io.Writer
	ProgressBar *pb.ProgressBar
}

func (j JSON) Run(ctx context.Context, hits <-chan *api.SearchHit) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case hit, ok := <-hits:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintln(j.Outfile, string(hit.Source)); err != nil {
				return errors.Wrap(err, "write json")
			}
			increment(j.ProgressBar)
		}
	}
}
