// Command erp-mock is a stand-in for the ERP REST API in local development.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"attendance.edge/internal/core/model"
	"attendance.edge/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type store struct {
	mu        sync.Mutex
	seq       int
	checkins  map[string]model.Checkin
	employees []model.Employee
}

type server struct {
	store       *store
	token       string
	failureRate float64
	latency     time.Duration
}

func newStore() *store {
	return &store{
		checkins: map[string]model.Checkin{},
		employees: []model.Employee{
			{Name: "HR-EMP-00001", EmployeeName: "Asha Rao", UserID: "asha@example.com"},
			{Name: "HR-EMP-00002", EmployeeName: "Jane Doe", UserID: "jane@example.com", ReportsTo: "HR-EMP-00001"},
			{Name: "HR-EMP-00003", EmployeeName: "Ravi Kumar", UserID: "ravi@example.com", ReportsTo: "HR-EMP-00001"},
		},
	}
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.chaos, s.auth)
	res := r.PathPrefix("/api/resource").Subrouter()
	res.HandleFunc("/Mobile Checkin", s.createCheckin).Methods(http.MethodPost)
	res.HandleFunc("/Mobile Checkin", s.listCheckins).Methods(http.MethodGet)
	res.HandleFunc("/Mobile Checkin/{name}", s.updateCheckin).Methods(http.MethodPut)
	res.HandleFunc("/Mobile Checkin/{name}", s.deleteCheckin).Methods(http.MethodDelete)
	res.HandleFunc("/Employee", s.listEmployees).Methods(http.MethodGet)
	return r
}

// chaos delays every request and fails a share of them like an overloaded ERP would.
func (s *server) chaos(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.latency > 0 {
			time.Sleep(s.latency)
		}
		if s.failureRate > 0 && rand.Float64() < s.failureRate {
			log.Warn().Str("method", r.Method).Str("path", r.URL.Path).Msg("Injecting failure")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"exception": "frappe.exceptions.InternalServerError"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"exc_type": "AuthenticationError", "message": "Invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) createCheckin(w http.ResponseWriter, r *http.Request) {
	var p model.CheckinPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		validationError(w, "Invalid JSON body")
		return
	}
	if p.Employee == "" || !p.LogType.Valid() {
		validationError(w, "Employee and Log Type (IN/OUT) are mandatory")
		return
	}

	s.store.mu.Lock()
	s.store.seq++
	c := model.Checkin{
		Name:        fmt.Sprintf("MC-%05d", s.store.seq),
		Employee:    p.Employee,
		LogType:     p.LogType,
		CheckinTime: p.CheckinTime.Format("2006-01-02 15:04:05"),
		Latitude:    p.Latitude,
		Longitude:   p.Longitude,
		Landmark:    p.Landmark,
		Status:      p.Status,
		HOD:         p.HOD,
	}
	for _, e := range s.store.employees {
		if e.Name == p.Employee {
			c.EmployeeName = e.EmployeeName
			if c.HOD == "" {
				c.HOD = e.ReportsTo
			}
		}
	}
	s.store.checkins[c.Name] = c
	s.store.mu.Unlock()

	log.Info().Str("name", c.Name).Str("employee", c.Employee).Str("log_type", string(c.LogType)).Msg("Check-in created")
	writeJSON(w, http.StatusOK, map[string]any{"data": c})
}

func (s *server) listCheckins(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r.URL.Query().Get("filters"))
	if err != nil {
		validationError(w, err.Error())
		return
	}

	s.store.mu.Lock()
	out := []model.Checkin{}
	for _, c := range s.store.checkins {
		fields := map[string]string{"employee": c.Employee, "status": string(c.Status), "hod": c.HOD}
		if matches(fields, filters) {
			out = append(out, c)
		}
	}
	s.store.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CheckinTime > out[j].CheckinTime })
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *server) updateCheckin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status          model.CheckinStatus `json:"status"`
		ApproverRemarks string              `json:"approver_remarks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		validationError(w, "Invalid JSON body")
		return
	}

	name := mux.Vars(r)["name"]
	s.store.mu.Lock()
	c, ok := s.store.checkins[name]
	if ok {
		c.Status = body.Status
		c.ApproverRemarks = body.ApproverRemarks
		s.store.checkins[name] = c
	}
	s.store.mu.Unlock()

	if !ok {
		notFound(w, name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": c})
}

func (s *server) deleteCheckin(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.store.mu.Lock()
	_, ok := s.store.checkins[name]
	delete(s.store.checkins, name)
	s.store.mu.Unlock()

	if !ok {
		notFound(w, name)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "ok"})
}

func (s *server) listEmployees(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r.URL.Query().Get("filters"))
	if err != nil {
		validationError(w, err.Error())
		return
	}

	s.store.mu.Lock()
	out := []model.Employee{}
	for _, e := range s.store.employees {
		fields := map[string]string{"user_id": e.UserID, "reports_to": e.ReportsTo, "name": e.Name}
		if matches(fields, filters) {
			out = append(out, e)
		}
	}
	s.store.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// parseFilters understands the [["field","=","value"], ...] form.
func parseFilters(raw string) ([][3]string, error) {
	if raw == "" {
		return nil, nil
	}
	var filters [][3]string
	if err := json.Unmarshal([]byte(raw), &filters); err != nil {
		return nil, fmt.Errorf("invalid filters: %v", err)
	}
	for _, f := range filters {
		if f[1] != "=" {
			return nil, fmt.Errorf("unsupported operator %q", f[1])
		}
	}
	return filters, nil
}

func matches(fields map[string]string, filters [][3]string) bool {
	for _, f := range filters {
		if fields[f[0]] != f[2] {
			return false
		}
	}
	return true
}

func validationError(w http.ResponseWriter, msg string) {
	inner, _ := json.Marshal(map[string]string{"message": msg})
	outer, _ := json.Marshal([]string{string(inner)})
	writeJSON(w, http.StatusExpectationFailed, map[string]string{
		"exc_type":         "ValidationError",
		"_server_messages": string(outer),
	})
}

func notFound(w http.ResponseWriter, name string) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"exc_type": "DoesNotExistError",
		"message":  fmt.Sprintf("Mobile Checkin %s not found", strings.TrimSpace(name)),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	var (
		port              string
		apiKey, apiSecret string
		failureRate       float64
		latency           time.Duration
	)

	cmd := &cobra.Command{
		Use:   "erp-mock",
		Short: "Fake ERP for local development of the attendance edge",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Setup(true)

			s := &server{store: newStore(), failureRate: failureRate, latency: latency}
			if apiKey != "" {
				s.token = fmt.Sprintf("token %s:%s", apiKey, apiSecret)
			}

			log.Info().Str("port", port).Float64("failure_rate", failureRate).Msg("ERP mock server starting")
			srv := &http.Server{Addr: ":" + port, Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}
			return srv.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&port, "port", "8081", "listen port")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("ERP_API_KEY"), "expected API key (empty disables auth)")
	cmd.Flags().StringVar(&apiSecret, "api-secret", os.Getenv("ERP_API_SECRET"), "expected API secret")
	cmd.Flags().Float64Var(&failureRate, "failure-rate", 0, "share of requests answered with 500 (0..1)")
	cmd.Flags().DurationVar(&latency, "latency", 0, "delay added to every request")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
