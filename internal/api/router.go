package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"attendance.edge/internal/api/handler"
	"attendance.edge/internal/ports/repository"
)

// Dependencies are the components the HTTP surface is built from.
type Dependencies struct {
	Checkins      handler.CheckinService
	Queue         repository.QueueStore
	DeadLetters   repository.DeadLetterStore
	Sync          handler.Syncer
	Notifications handler.Notifications
	// Events upgrades foreground contexts to the broadcast websocket.
	Events http.Handler
	// Fallback serves every path no API route claims.
	Fallback http.Handler
}

// NewRouter sets up the gorilla/mux router and defines all API routes.
func NewRouter(deps Dependencies) *mux.Router {
	checkInHandler := handler.CheckInHandler{Service: deps.Checkins}
	queueHandler := handler.QueueHandler{Store: deps.Queue, Dead: deps.DeadLetters}
	eventHandler := handler.EventHandler{Sync: deps.Sync, Notifications: deps.Notifications}

	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/checkins", checkInHandler.Submit).Methods(http.MethodPost)
	api.HandleFunc("/checkins", checkInHandler.History).Methods(http.MethodGet)
	api.HandleFunc("/checkins/pending", checkInHandler.Pending).Methods(http.MethodGet)
	api.HandleFunc("/checkins/{name}", checkInHandler.Decide).Methods(http.MethodPut)
	api.HandleFunc("/checkins/{name}", checkInHandler.Discard).Methods(http.MethodDelete)
	api.HandleFunc("/employees/{userId}", checkInHandler.Employee).Methods(http.MethodGet)

	api.HandleFunc("/queue", queueHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/queue/dead", queueHandler.DeadLetters).Methods(http.MethodGet)
	api.HandleFunc("/queue/{id:[0-9]+}", queueHandler.Remove).Methods(http.MethodDelete)

	api.HandleFunc("/sync", eventHandler.TriggerSync).Methods(http.MethodPost)
	api.HandleFunc("/push", eventHandler.Push).Methods(http.MethodPost)
	api.HandleFunc("/notifications", eventHandler.ListNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{tag}/click", eventHandler.Click).Methods(http.MethodPost)
	if deps.Events != nil {
		api.Handle("/events", deps.Events).Methods(http.MethodGet)
	}

	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Service is operational."))
	}).Methods(http.MethodGet)

	if deps.Fallback != nil {
		r.NotFoundHandler = deps.Fallback
	}

	return r
}
