package middleware

import (
	"context"
	"time"

	"github.com/gsdocker/gslogger"
	"github.com/gsrpc/dispatcher"
)

// Logging log unit start and completion on the named logger
func Logging(name string) Middleware {

	log := gslogger.Get(name)

	return func(ctx context.Context, unit *dispatcher.Unit, next Handler) error {

		worker, _ := dispatcher.WorkerID(ctx)

		log.D("unit(%d:%s) started on worker(%s)", unit.ID, unit.Name, worker)

		start := time.Now()

		err := next(ctx)

		if err != nil {
			log.E("unit(%d:%s) failed after %s\n%s", unit.ID, unit.Name, time.Since(start), err)
		} else {
			log.D("unit(%d:%s) completed in %s", unit.ID, unit.Name, time.Since(start))
		}

		return err
	}
}
