package internal

import (
	"fmt"
	"io"
	"log/slog"
	"messaging-core/infrastructure/storage"
	"net/http"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

type Inspector interface {
	Inspect(prefix string, limit int) ([]storage.InspectRow, error)
}

type StatsProvider func() map[string]any

// NewDebugHandler serves a plain text view of the raw store under endpoint:
// GET {endpoint}?prefix=msg:&limit=50
func NewDebugHandler(inspector Inspector, endpoint string, stats StatsProvider) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "conv:"
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		rows, err := inspector.Inspect(prefix, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if stats != nil {
			RenderStats(w, stats())
		}
		RenderRows(w, rows)
	})
	return mux
}

// StartDebugServer runs the inspector in the background. Debug runs only.
func StartDebugServer(inspector Inspector, port int, endpoint string, stats StatsProvider, log *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: NewDebugHandler(inspector, endpoint, stats),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("Debug server stopped", "error", err)
		}
	}()
	return server
}

func RenderRows(w io.Writer, rows []storage.InspectRow) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Key", "Type", "Timestamp", "Entity", "Detail"})
	table.SetAutoWrapText(false)
	for _, row := range rows {
		table.Append([]string{row.Key, row.Type, row.Timestamp, row.EntityID, row.Detail})
	}
	table.SetFooter([]string{"", "", "", "rows", strconv.Itoa(len(rows))})
	table.Render()
}

func RenderStats(w io.Writer, stats map[string]any) {
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Stat", "Value"})
	for _, key := range keys {
		table.Append([]string{key, fmt.Sprint(stats[key])})
	}
	table.Render()
}
