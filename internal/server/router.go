package server

import (
	"net/http"
	"strings"
)

// BasicRouter routes requests through an [http.ServeMux] after passing
// them down the registered middleware chain.
type BasicRouter struct {
	mux         *http.ServeMux
	middlewares []Middleware
}

func NewBasicRouter() *BasicRouter {
	return &BasicRouter{mux: http.NewServeMux()}
}

// Use appends middleware to the chain. Requests traverse the chain in
// registration order before reaching a handler.
func (r *BasicRouter) Use(middleware ...Middleware) {
	r.middlewares = append(r.middlewares, middleware...)
}

// Handle registers handler for path, rejecting any request whose method
// does not match with 405.
func (r *BasicRouter) Handle(method, path string, handler http.Handler) {
	wrapped := r.chain(handler)

	r.mux.Handle(path, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !strings.EqualFold(req.Method, method) {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wrapped.ServeHTTP(w, req)
	}))
}

// Handler registers handler under every pattern it reports via
// [Handler.Routes].
func (r *BasicRouter) Handler(handler Handler) {
	wrapped := r.chain(handler)
	for _, route := range handler.Routes() {
		r.mux.Handle(route, wrapped)
	}
}

func (r *BasicRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// chain wraps handler with the middleware stack. Iterates in reverse so
// the first middleware registered sees the request first.
func (r *BasicRouter) chain(handler http.Handler) http.Handler {
	wrapped := handler
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		wrapped = r.middlewares[i](wrapped)
	}
	return wrapped
}
