package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/packingslipsorter/internal/gcp"
	"github.com/Lllllllleong/packingslipsorter/internal/services"
)

var (
	sorterInstance *services.SorterFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("SubmitSlips", withSorter(func(f *services.SorterFunction) http.HandlerFunc { return f.HandleSubmit }))
	functions.HTTP("JobStatus", withSorter(func(f *services.SorterFunction) http.HandlerFunc { return f.HandleStatus }))
	functions.HTTP("DownloadArchive", withSorter(func(f *services.SorterFunction) http.HandlerFunc { return f.HandleArchive }))
	functions.HTTP("Metrics", withSorter(func(f *services.SorterFunction) http.HandlerFunc { return f.MetricsHandler().ServeHTTP }))
	functions.CloudEvent("SortUploadedSlip", sortUploadedSlip)
}

func main() {
	port := gcp.GetEnv("PORT", "8080")
	if err := funcframework.Start(port); err != nil {
		slog.Error("Functions framework stopped", "error", err)
		os.Exit(1)
	}
}

// sorter initializes the shared service once per instance.
func sorter() (*services.SorterFunction, error) {
	once.Do(func() {
		sorterInstance, initErr = services.NewSorter(context.Background())
		if initErr == nil {
			initErr = sorterInstance.Start()
		}
	})
	return sorterInstance, initErr
}

func withSorter(handler func(f *services.SorterFunction) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := sorter()
		if err != nil {
			slog.Error("Critical: Sorter initialization failed", "error", err)
			http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
			return
		}
		handler(f)(w, r)
	}
}

// sortUploadedSlip is the Cloud Function entry point for bucket uploads.
func sortUploadedSlip(ctx context.Context, e cloudevents.Event) error {
	f, err := sorter()
	if err != nil {
		slog.Error("Critical error during function initialization", "error", err)
		return err
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	return f.ProcessGCSEvent(ctx, gcsEvent)
}
