package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-hail/internal/assign"
	"github.com/example/driver-hail/internal/chat"
	"github.com/example/driver-hail/internal/config"
	"github.com/example/driver-hail/internal/dispatch"
	"github.com/example/driver-hail/internal/events"
	"github.com/example/driver-hail/internal/geo"
	"github.com/example/driver-hail/internal/ingest"
	"github.com/example/driver-hail/internal/lifecycle"
	"github.com/example/driver-hail/internal/logging"
	"github.com/example/driver-hail/internal/models"
	"github.com/example/driver-hail/internal/observability"
	"github.com/example/driver-hail/internal/payments"
	"github.com/example/driver-hail/internal/ranker"
	"github.com/example/driver-hail/internal/registry"
	"github.com/example/driver-hail/internal/storage"
)

type Server struct {
	Registry registry.Registry
	Life     *lifecycle.Lifecycle
	Coord    *assign.Coordinator
	Chat     *chat.Service
	Geo      geo.Index
	Kafka    *ingest.KafkaProducer
	WSReg    *dispatch.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

// bookingStores is what NewServer needs from the persistence layer; the
// memory store and the postgres store both satisfy it.
type bookingStores interface {
	storage.BookingStore
	storage.ChatStore
}

// NewServer wires the core against the given collaborators. extraSinks
// join the WS notifier in the notification fanout (push provider, AMQP
// event bus).
func NewServer(cfg config.ServerConfig, reg registry.Registry, store bookingStores, gidx geo.Index, kp *ingest.KafkaProducer, gateway payments.Gateway, logger *slog.Logger, extraSinks ...dispatch.Sink) *Server {
	wsreg := dispatch.NewWSRegistry()
	sinks := append([]dispatch.Sink{&dispatch.WSNotifier{Reg: wsreg, OfferTTL: cfg.OfferTimeout}}, extraSinks...)

	lc := &lifecycle.Lifecycle{
		Store:    store,
		Drivers:  reg,
		Notifier: dispatch.NewFanout(logging.Component(logger, "dispatch"), sinks...),
		Payments: gateway,
		Currency: cfg.HoldCurrency,
		Logger:   logging.Component(logger, "lifecycle"),
	}
	s := &Server{
		Registry: reg,
		Life:     lc,
		Coord:    assign.New(lc, reg, cfg.OfferTimeout, logging.Component(logger, "assign")),
		Chat:     &chat.Service{Store: store, Bookings: store, AllowWhileRequested: cfg.ChatWhileRequested},
		Geo:      gidx,
		Kafka:    kp,
		WSReg:    wsreg,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewServerFromEnv builds a server with env-driven wiring and sensible
// in-memory fallbacks for anything not configured.
func NewServerFromEnv(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var reg registry.Registry
	var store bookingStores
	if cfg.PGDSN != "" {
		pgReg, err := registry.NewPostgres(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		pgStore, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		reg, store = pgReg, pgStore
	} else {
		reg, store = registry.NewMemory(), storage.NewMemoryStore()
	}

	var gidx geo.Index
	if cfg.RedisAddr != "" {
		gidx = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		gidx = geo.NewMemoryIndex()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	var gateway payments.Gateway
	if cfg.StripeAPIKey != "" {
		gateway = payments.NewStripeGateway(cfg.StripeAPIKey)
	}

	var sinks []dispatch.Sink
	if cfg.PushEndpoint != "" {
		sinks = append(sinks, dispatch.NewPushDispatcher(cfg.PushEndpoint, cfg.PushKey))
	}
	if cfg.AMQPURL != "" {
		pub, err := events.NewPublisher(cfg.AMQPURL)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, pub)
	}

	return NewServer(cfg, reg, store, gidx, kp, gateway, logger, sinks...), nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/bookings", s.handleCreateBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}", s.handleGetBooking).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}/respond", s.handleRespond).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/progress", s.handleProgress).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}/messages", s.handleListMessages).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/{id}/messages", s.handleSendMessage).Methods("POST")

	s.mux.HandleFunc("/api/v1/drivers", s.handleRegisterDriver).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers", s.handleListDrivers).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers/{id}/approval", s.handleApproval).Methods("POST")

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Shutdown stops in-flight offer timers.
func (s *Server) Shutdown() { s.Coord.Shutdown() }

type createBookingRequest struct {
	CustomerID     string             `json:"customer_id"`
	DriverID       string             `json:"driver_id"`
	PickupLocation string             `json:"pickup_location"`
	DropLocation   string             `json:"drop_location"`
	Origin         models.Coordinates `json:"origin"`
	VehicleType    models.VehicleType `json:"vehicle_type"`
	CitySector     string             `json:"city_sector"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CustomerID == "" || req.DriverID == "" || req.PickupLocation == "" {
		writeJSONError(w, http.StatusBadRequest, "customer_id, driver_id and pickup_location are required")
		return
	}
	if _, err := s.Registry.Get(r.Context(), req.DriverID); err != nil {
		s.writeError(w, err)
		return
	}

	pool, err := s.Registry.ListEligible(r.Context(), registry.Filter{VehicleType: req.VehicleType, CitySector: req.CitySector})
	if err != nil {
		s.writeError(w, err)
		return
	}
	queue := ranker.BuildQueue(req.DriverID, req.Origin, pool)

	b := &models.Booking{
		CustomerID:     req.CustomerID,
		PickupLocation: req.PickupLocation,
		DropLocation:   req.DropLocation,
		Origin:         req.Origin,
	}
	b, err = s.Coord.Dispatch(r.Context(), b, queue)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.Life.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		DriverID string `json:"driver_id"`
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var accept bool
	switch req.Decision {
	case "ACCEPT":
		accept = true
	case "DECLINE":
	default:
		writeJSONError(w, http.StatusBadRequest, "decision must be ACCEPT or DECLINE")
		return
	}
	if err := s.Coord.Respond(r.Context(), id, req.DriverID, accept); err != nil {
		s.writeError(w, err)
		return
	}
	b, err := s.Life.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		DriverID string `json:"driver_id"`
		Event    string `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var ev lifecycle.Event
	switch req.Event {
	case "ARRIVED":
		ev = lifecycle.EventArrive
	case "START":
		ev = lifecycle.EventStart
	case "COMPLETE":
		ev = lifecycle.EventComplete
	default:
		writeJSONError(w, http.StatusBadRequest, "event must be ARRIVED, START or COMPLETE")
		return
	}
	b, err := s.Life.Progress(r.Context(), id, req.DriverID, ev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		ActorID string      `json:"actor_id"`
		Role    models.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	reason := models.CancelByCustomer
	if req.Role == models.RoleDriver {
		reason = models.CancelByDriver
	}
	b, err := s.Coord.Cancel(r.Context(), id, req.ActorID, req.Role, reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.Chat.List(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Sender  models.Role `json:"sender"`
		ActorID string      `json:"actor_id"`
		Text    string      `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := s.Chat.Append(r.Context(), id, req.Sender, req.ActorID, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var d models.DriverRecord
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if d.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	// registration always starts unapproved
	d.Approval = models.ApprovalPending
	if err := s.Registry.Register(r.Context(), &d); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Approval models.ApprovalStatus `json:"approval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Approval != models.ApprovalApproved && req.Approval != models.ApprovalRejected {
		writeJSONError(w, http.StatusBadRequest, "approval must be APPROVED or REJECTED")
		return
	}
	if err := s.Registry.SetApproval(r.Context(), id, req.Approval); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rankedDriver struct {
	models.DriverRecord
	DistanceKm float64 `json:"distance_km"`
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pool, err := s.Registry.ListEligible(r.Context(), registry.Filter{
		VehicleType: models.VehicleType(q.Get("vehicle_type")),
		CitySector:  q.Get("sector"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]rankedDriver, 0, len(pool))
	origin, hasOrigin := parseOrigin(q.Get("lat"), q.Get("lng"))
	for _, d := range pool {
		rd := rankedDriver{DriverRecord: d}
		if hasOrigin {
			rd.DistanceKm = geo.DistanceKm(origin, d.Location)
		}
		out = append(out, rd)
	}
	if hasOrigin {
		sort.Slice(out, func(i, j int) bool {
			if out[i].DistanceKm != out[j].DistanceKm {
				return out[i].DistanceKm < out[j].DistanceKm
			}
			return out[i].ID < out[j].ID
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var u models.LocationUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if u.DriverID == "" {
		writeJSONError(w, http.StatusBadRequest, "driver_id is required")
		return
	}
	u.Online = true
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(u); err != nil {
			s.logger.Warn("location publish failed", "driver_id", u.DriverID, "error", err)
		}
	}
	s.Geo.Upsert(u)
	// best effort: unknown drivers may report before registration completes
	_ = s.Registry.UpdateLocation(r.Context(), u.DriverID, u.Loc)
	observability.DriversOnline.Inc()
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "upgrade failed")
		return
	}
	s.WSReg.Add(id, conn)
	go func() {
		defer s.WSReg.Remove(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func parseOrigin(lat, lng string) (models.Coordinates, bool) {
	if lat == "" || lng == "" {
		return models.Coordinates{}, false
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return models.Coordinates{}, false
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return models.Coordinates{}, false
	}
	return models.Coordinates{Lat: la, Lng: ln}, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, models.ErrIllegalTransition), errors.Is(err, models.ErrInvalidState):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("internal error", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
