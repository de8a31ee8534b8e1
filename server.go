package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"catalog-scraper/pkg/api"
	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/logger"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/store"

	scalargo "github.com/bdpiprava/scalar-go"
	"github.com/gorilla/mux"
)

const maxPageSize = 1000

type catalogHandler struct {
	store *store.Store
}

func newRouter(s *store.Store) *mux.Router {
	h := &catalogHandler{store: s}

	router := mux.NewRouter()
	router.HandleFunc("/", docsHandler).Methods(http.MethodGet)
	router.HandleFunc("/products", h.listProducts).Methods(http.MethodGet)
	router.HandleFunc("/products/{id}", h.getProduct).Methods(http.MethodGet)
	router.HandleFunc("/categories", h.listCategories).Methods(http.MethodGet)
	router.HandleFunc("/runs", h.listRuns).Methods(http.MethodGet)
	router.HandleFunc("/stats", h.stats).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.WriteUnknownEndpoint(w, r.URL.Path)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.WriteReadOnly(w, r.URL.Path)
	})
	return router
}

func runServe(ctx context.Context, cfg *config.Config, s *store.Store, out io.Writer) error {
	log := logger.Component("server")

	server := &http.Server{
		Addr:              cfg.ServeAddr,
		Handler:           newRouter(s),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	_, port, err := net.SplitHostPort(cfg.ServeAddr)
	if err != nil {
		return fmt.Errorf("invalid serve address %q: %w", cfg.ServeAddr, err)
	}
	if ip := GetOutboundIP(); ip != nil {
		fmt.Fprintf(out, "Local Network URL: http://%s:%s\n", ip.String(), port)
	} else {
		fmt.Fprintln(out, "Could not determine local IP address.")
	}
	fmt.Fprintf(out, "Access URL: http://localhost:%s\n", port)
	fmt.Fprintf(out, "API Docs: http://localhost:%s/\n", port)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func docsHandler(w http.ResponseWriter, r *http.Request) {
	html, err := scalargo.NewV2(
		scalargo.WithSpecDir("./"),
		scalargo.WithMetaDataOpts(
			scalargo.WithTitle("Catalog Scraper API"),
		),
	)
	if err != nil {
		logger.Component("server").WithError(err).Error("Failed to render API reference")
		api.WriteProblem(w, api.Problem(http.StatusInternalServerError, "API reference unavailable", r.URL.Path))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, html)
}

// queryLimit reads ?limit=, falling back to def and capping at maxPageSize.
// ok is false once an invalid limit has been answered.
func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		api.WriteInvalidLimit(w, raw, r.URL.Path)
		return 0, false
	}
	return min(n, maxPageSize), true
}

func (h *catalogHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 50)
	if !ok {
		return
	}

	products, err := h.store.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		api.WriteStoreError(w, err, r.URL.Path)
		return
	}
	if products == nil {
		products = []models.ProductRecord{}
	}
	api.WriteJSON(w, r, products)
}

func (h *catalogHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	product, err := h.store.Get(r.Context(), id)
	if errors.Is(err, models.ErrProductNotFound) {
		api.WriteProductNotFound(w, id, r.URL.Path)
		return
	}
	if err != nil {
		api.WriteStoreError(w, err, r.URL.Path)
		return
	}
	api.WriteJSON(w, r, product)
}

func (h *catalogHandler) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.store.Categories(r.Context())
	if err != nil {
		api.WriteStoreError(w, err, r.URL.Path)
		return
	}
	if categories == nil {
		categories = []string{}
	}
	api.WriteJSON(w, r, categories)
}

func (h *catalogHandler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 10)
	if !ok {
		return
	}

	runs, err := h.store.RecentRuns(r.Context(), limit)
	if err != nil {
		api.WriteStoreError(w, err, r.URL.Path)
		return
	}
	if runs == nil {
		runs = []models.ScrapeRun{}
	}
	api.WriteJSON(w, r, runs)
}

func (h *catalogHandler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.Stats(r.Context())
	if err != nil {
		api.WriteStoreError(w, err, r.URL.Path)
		return
	}
	api.WriteJSON(w, r, st)
}

func GetOutboundIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		addrs, _ := net.InterfaceAddrs()
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					return ipnet.IP
				}
			}
		}
		return nil
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP
}
