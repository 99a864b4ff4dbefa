package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/usecase"
)

func wantsStream(c echo.Context) bool {
	if c.QueryParam("follow") == "true" {
		return true
	}
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "text/event-stream")
}

// streamEvents writes the log of id as server-sent events until the current
// pipeline ends or either side closes the stream. Each event id is its
// sequence, so a reconnecting client resumes through Last-Event-ID.
func streamEvents(c echo.Context, injector *do.Injector, closing context.Context, id entity.ID, from int64) error {
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	defer context.AfterFunc(closing, cancel)()
	log := zerolog.Ctx(ctx).With().Str("deployment_id", id.String()).Logger()
	usecase := do.MustInvoke[usecase.ListDeploymentEventsUsecase](injector)

	next, stop := iter.Pull2(usecase.Follow(ctx, id, from))
	defer stop()

	// surface a missing deployment as a plain error before committing to a stream
	ev, err, ok := next()
	if ok && err != nil {
		return respondError(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	for ok {
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("event stream failed")
				fmt.Fprintf(res, "event: error\ndata: %q\n\n", err.Error())
				res.Flush()
			}
			return nil
		}
		data, merr := json.Marshal(ev)
		if merr != nil {
			return merr
		}
		if _, werr := fmt.Fprintf(res, "id: %d\nevent: %s\ndata: %s\n\n", ev.Sequence, ev.Kind, data); werr != nil {
			return nil
		}
		res.Flush()
		ev, err, ok = next()
	}
	log.Debug().Msg("event stream caught up with a finished pipeline")
	return nil
}
