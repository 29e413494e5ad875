package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/relaymesh/chatcore/internal/api/middleware"
	"github.com/relaymesh/chatcore/internal/queue"
)

type apiFunc func(http.ResponseWriter, *http.Request) error

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func WriteSuccess(w http.ResponseWriter, status int, data any) error {
	return WriteJSON(w, status, Envelope{Success: true, Data: data})
}

func WriteSuccessWithMeta(w http.ResponseWriter, status int, data, meta any) error {
	return WriteJSON(w, status, Envelope{Success: true, Data: data, Meta: meta})
}

// MakeHTTPHandleFunc wraps an apiFunc with CORS, access logging, an
// optional auth chain, and dispatch through the request queue manager,
// the same composition the teacher's MakeHTTPHandleFunc uses.
func (s *APIServer) MakeHTTPHandleFunc(f apiFunc, authMiddleware ...middleware.Middleware) http.HandlerFunc {
	corsConfig := middleware.CORSConfig{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "OPTIONS", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "X-Requested-With", "Authorization", "X-Tenant-ID"},
		AllowCredentials: true,
	}

	baseHandler := func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestDeadline)
		defer cancel()
		r = r.WithContext(ctx)

		errc := make(chan error, 1)

		job := queue.Job{
			Fn: func() error {
				return f(w, r)
			},
			Errc: errc,
		}

		s.requestQueueManager.EnqueueJob(job)

		select {
		case err := <-errc:
			if err != nil {
				var httpErr *HTTPError
				if errors.As(err, &httpErr) {
					if httpErr.ErrorLog != nil {
						log.Println(httpErr.ErrorLog)
					}
					WriteJSON(w, httpErr.StatusCode, Envelope{
						Success: false,
						Error:   &ApiError{Code: httpErr.Code, Message: httpErr.Message},
					})
				} else {
					log.Println(err)
					WriteJSON(w, http.StatusInternalServerError, Envelope{
						Success: false,
						Error:   &ApiError{Code: "INTERNAL_ERROR", Message: "internal server error"},
					})
				}
			}
		case <-ctx.Done():
			WriteJSON(w, http.StatusServiceUnavailable, Envelope{
				Success: false,
				Error:   &ApiError{Code: "SERVICE_UNAVAILABLE", Message: "request deadline exceeded"},
			})
		}
	}

	middlewares := []middleware.Middleware{
		middleware.CORS(corsConfig),
		middleware.Logging(),
	}
	if s.bus != nil {
		middlewares = append(middlewares, middleware.RateLimit(s.bus, s.rateLimitMax, s.rateLimitWindow))
	}

	finalHandler := baseHandler
	if len(authMiddleware) > 0 {
		for _, m := range authMiddleware {
			finalHandler = m(finalHandler)
		}
	}

	wrapped := func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		finalHandler(w, r)
	}

	return middleware.Chain(wrapped, middlewares...)
}
