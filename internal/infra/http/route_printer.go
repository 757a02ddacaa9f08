package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"text/tabwriter"
)

// RouteInfo describes one registered route.
type RouteInfo struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Handler string `json:"handler"`
}

// RouteFilters narrows a route listing.
type RouteFilters struct {
	Method string
	Path   string
}

// CollectRoutes lists the routes of router sorted by path then method.
func CollectRoutes(router Router, filters RouteFilters) []RouteInfo {
	var routes []RouteInfo
	_ = router.Walk(func(method, path string, handler http.Handler) error {
		if filters.Method != "" && !strings.EqualFold(method, filters.Method) {
			return nil
		}
		if filters.Path != "" && !strings.Contains(path, filters.Path) {
			return nil
		}
		routes = append(routes, RouteInfo{Method: method, Path: path, Handler: handlerName(handler)})
		return nil
	})
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	return routes
}

// handlerName is the function name of handler. Routes with middleware report
// the outermost wrapper.
func handlerName(handler http.Handler) string {
	v := reflect.ValueOf(handler)
	if v.Kind() != reflect.Func {
		return fmt.Sprintf("%T", handler)
	}
	fn := runtime.FuncForPC(v.Pointer())
	if fn == nil {
		return fmt.Sprintf("%T", handler)
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}

// PrintRoutes writes routes as "table" (default) or "json".
func PrintRoutes(w io.Writer, routes []RouteInfo, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(routes)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATH\tHANDLER")
	for _, r := range routes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Method, r.Path, r.Handler)
	}
	fmt.Fprintf(tw, "\n%d routes\n", len(routes))
	return tw.Flush()
}
