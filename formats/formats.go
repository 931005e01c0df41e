package formats

import (
	"context"

	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-client-kit/api"
)

// Formatter writes the hits it receives until the channel is closed.
type Formatter interface {
	Run(context.Context, <-chan *api.SearchHit) error
}

func increment(bar *pb.ProgressBar) {
	if bar != nil {
		bar.Increment()
	}
}
