package cli

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nimburion/docstore/pkg/query"
	"github.com/nimburion/docstore/pkg/realtime/sse"
)

// watchRoute streams live views as server-sent events.
const watchRoute = "/watch/{collection}"

// mountWatch registers the live view stream on router. Filters use the same
// syntax as the watch command: ?where=status:==:open&order=name:asc&limit=10.
// The returned function closes the shared multiplexer.
func mountWatch(router *mux.Router, rt *runtime) (func() error, error) {
	views := rt.multiplexer()
	handler, err := sse.NewHandler(sse.HandlerConfig{
		Mux:     views,
		Adapter: rt.adapter,
		Resolve: resolveWatch,
		Logger:  rt.log,
	})
	if err != nil {
		_ = views.Close()
		return nil, err
	}
	router.Handle(watchRoute, handler).Methods(http.MethodGet)
	return views.Close, nil
}

func resolveWatch(r *http.Request) (string, *query.Query, error) {
	collection := mux.Vars(r)["collection"]
	params := r.URL.Query()
	flags := queryFlags{where: params["where"], order: params["order"]}
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return "", nil, fmt.Errorf("invalid limit %q", raw)
		}
		flags.limit = n
	}
	opts, err := flags.options()
	if err != nil {
		return "", nil, err
	}
	q, err := query.Build(opts)
	if err != nil {
		return "", nil, err
	}
	return collection, q, nil
}
