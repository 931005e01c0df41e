package formats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-client-kit/api"
)

// Raw writes every hit including its metadata as one line.
type Raw struct {
	Outfile     io.Writer
	ProgressBar *pb.ProgressBar
}

func (r Raw) Run(ctx context.Context, hits <-chan *api.SearchHit) error {
	for hit := range hits {
		data, err := json.Marshal(hit)
		if err != nil {
			log.Warn().Err(err).Str("id", hit.ID).Msg("Skipping hit")
			continue
		}
		if _, err := fmt.Fprintln(r.Outfile, string(data)); err != nil {
			return errors.Wrap(err, "write raw")
		}
		increment(r.ProgressBar)

		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
