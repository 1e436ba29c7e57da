package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig configures Cross-Origin Resource Sharing (CORS) policies.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
}

// Defaults cover the generated REST surface.
var (
	DefaultCORSMethods       = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	DefaultCORSHeaders       = []string{"Authorization", "Content-Type", RequestIDHeader}
	DefaultCORSExposeHeaders = []string{RequestIDHeader}
)

// CORSMiddleware adds CORS headers and answers preflight requests with 204.
// Empty method, header and expose lists fall back to the defaults above.
func CORSMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	allowAll := false
	origins := make(map[string]struct{})
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
			continue
		case "*":
			allowAll = true
		default:
			origins[origin] = struct{}{}
		}
	}

	methods := strings.Join(orDefault(cfg.AllowedMethods, DefaultCORSMethods), ", ")
	headers := strings.Join(orDefault(cfg.AllowedHeaders, DefaultCORSHeaders), ", ")
	expose := strings.Join(orDefault(cfg.ExposeHeaders, DefaultCORSExposeHeaders), ", ")
	maxAge := ""
	if cfg.MaxAge > 0 {
		maxAge = strconv.Itoa(cfg.MaxAge)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			_, listed := origins[origin]
			allowed := allowAll || listed
			h := w.Header()
			if allowed {
				if allowAll {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
					if cfg.AllowCredentials {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
				}
				h.Set("Access-Control-Expose-Headers", expose)
			}

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if allowed {
				h.Set("Access-Control-Allow-Methods", methods)
				h.Set("Access-Control-Allow-Headers", headers)
				if maxAge != "" {
					h.Set("Access-Control-Max-Age", maxAge)
				}
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func orDefault(values, def []string) []string {
	if len(values) == 0 {
		return def
	}
	return slices.Clone(values)
}
