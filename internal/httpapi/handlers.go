// Package httpapi exposes the coordination facade over HTTP. Handlers
// do decoding, actor extraction and status mapping only; every rule
// lives behind the facade.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ecocommute/internal/apperrors"
	"github.com/example/ecocommute/internal/auth"
	"github.com/example/ecocommute/internal/coord"
	"github.com/example/ecocommute/internal/lifecycle"
	"github.com/example/ecocommute/internal/models"
	"github.com/example/ecocommute/internal/storage"
)

type Server struct {
	facade *coord.Facade
	tokens *auth.TokenIssuer
	logger *slog.Logger
	router *mux.Router
}

func NewServer(facade *coord.Facade, tokens *auth.TokenIssuer, logger *slog.Logger) *Server {
	s := &Server{facade: facade, tokens: tokens, logger: logger, router: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.HandleFunc("/api/v1/auth/register", s.handleRegister).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/auth/login", s.handleLogin).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)

	api.HandleFunc("/rides", s.handleCreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides", s.handleListRides).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}", s.handleRideDetail).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}", s.handleDeleteRide).Methods(http.MethodDelete)
	api.HandleFunc("/rides/{id}/join", s.handleJoin).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/leave", s.handleLeave).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/driver-start", s.confirmHandler(s.facade.DriverStart)).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/passenger-confirm-start", s.confirmHandler(s.facade.PassengerConfirmStart)).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/driver-end", s.confirmHandler(s.facade.DriverEnd)).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/passenger-confirm-arrival", s.confirmHandler(s.facade.PassengerConfirmArrival)).Methods(http.MethodPost)

	api.HandleFunc("/location/update", s.handleUpdateLocation).Methods(http.MethodPost)
	api.HandleFunc("/location/{userID}/{rideID}", s.handleGetLocation).Methods(http.MethodGet)
	api.HandleFunc("/location/stop", s.handleStopSharing).Methods(http.MethodPost)

	api.HandleFunc("/identity/send-otp", s.handleSendOTP).Methods(http.MethodPost)
	api.HandleFunc("/identity/verify-otp", s.handleVerifyOTP).Methods(http.MethodPost)
	api.HandleFunc("/identity/resend-otp", s.handleResendOTP).Methods(http.MethodPost)

	api.HandleFunc("/admin/stats", s.handleAdminStats).Methods(http.MethodGet)
	api.HandleFunc("/admin/users", s.handleAdminUsers).Methods(http.MethodGet)
	api.HandleFunc("/admin/users/{id}/activate", s.handleAdminSetActive).Methods(http.MethodPost)
	api.HandleFunc("/admin/rides", s.handleAdminRides).Methods(http.MethodGet)
	api.HandleFunc("/admin/rides/{id}/cancel", s.handleAdminCancel).Methods(http.MethodPost)
	api.HandleFunc("/admin/trips/ongoing", s.tripsHandler(models.StatusCreated, models.StatusStarted)).Methods(http.MethodGet)
	api.HandleFunc("/admin/trips/completed", s.tripsHandler(models.StatusCompleted)).Methods(http.MethodGet)
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the taxonomy onto status codes. Unexpected failures
// are logged and reported generically, no detail leaks to the caller.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "error", err)
		msg = "internal error"
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Validation("invalid request body")
	}
	return nil
}

// ---- auth ----

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.facade.CreateAccount(in.Email, in.Password, in.PhoneNumber)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := s.tokens.Issue(u.ID, u.IsStaff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"user": u, "token": token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.facade.Authenticate(in.Email, in.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := s.tokens.Issue(u.ID, u.IsStaff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"user": u, "token": token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.facade.GetUser(actorID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.facade.GetProfile(u.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user":     u,
		"profile":  p,
		"maskedId": p.MaskedID(),
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.facade.UserDashboard(actorID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

// ---- rides ----

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var in struct {
		From          string  `json:"from"`
		To            string  `json:"to"`
		Date          string  `json:"date"`
		Time          string  `json:"time"`
		VehicleType   string  `json:"vehicleType"`
		VehicleNumber string  `json:"vehicleNumber"`
		DistanceKm    float64 `json:"distanceKm"`
		TotalSeats    int     `json:"totalSeats"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.facade.CreateRide(actorID(r), coord.CreateRideInput{
		From:          in.From,
		To:            in.To,
		RideDate:      in.Date,
		RideTime:      in.Time,
		VehicleType:   in.VehicleType,
		VehicleNumber: in.VehicleNumber,
		DistanceKm:    in.DistanceKm,
		TotalSeats:    in.TotalSeats,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.facade.ListRides(storage.RideFilter{
		From: r.URL.Query().Get("from"),
		To:   r.URL.Query().Get("to"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

func (s *Server) handleRideDetail(w http.ResponseWriter, r *http.Request) {
	d, err := s.facade.RideDetail(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteRide(w http.ResponseWriter, r *http.Request) {
	if err := s.facade.DeleteRide(actorID(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PickupPoint string `json:"pickupPoint"`
		PickupNotes string `json:"pickupNotes"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.facade.JoinRide(actorID(r), mux.Vars(r)["id"], in.PickupPoint, in.PickupNotes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"rideId":         ride.ID,
		"seatsAvailable": ride.SeatsAvailable,
		"totalSeats":     ride.TotalSeats,
	})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	ride, err := s.facade.LeaveRide(actorID(r), mux.Vars(r)["id"])
	if err != nil {
		// leaving a ride you never joined reads as a conflict, not a 404
		if errors.Is(err, apperrors.ErrNotFound) {
			err = apperrors.Conflict("you have not joined this ride")
		}
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"rideId":         ride.ID,
		"seatsAvailable": ride.SeatsAvailable,
		"totalSeats":     ride.TotalSeats,
	})
}

// confirmHandler adapts the four lifecycle confirmations, which share
// their shape.
func (s *Server) confirmHandler(confirm func(actorID, rideID string) (*lifecycle.Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := confirm(actorID(r), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"status":       res.Ride.Status,
			"transitioned": res.Transitioned,
		})
	}
}

// ---- live location ----

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RideID    string   `json:"rideId"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		IsSharing bool     `json:"isSharing"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if in.RideID == "" || in.Latitude == nil || in.Longitude == nil {
		s.writeError(w, r, apperrors.Validation("rideId, latitude and longitude are required"))
		return
	}
	loc, err := s.facade.UpdateLocation(actorID(r), in.RideID, *in.Latitude, *in.Longitude, in.IsSharing)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"latitude":  loc.Lat,
		"longitude": loc.Lon,
		"updatedAt": loc.UpdatedAt,
	})
}

func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	loc, err := s.facade.GetLocation(actorID(r), vars["rideID"], vars["userID"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"userId":    loc.UserID,
		"latitude":  loc.Lat,
		"longitude": loc.Lon,
		"updatedAt": loc.UpdatedAt,
	})
}

func (s *Server) handleStopSharing(w http.ResponseWriter, r *http.Request) {
	if err := s.facade.StopSharing(actorID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// ---- identity ----

func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var in struct {
		IdentityNumber string `json:"identityNumber"`
		Consent        bool   `json:"consent"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	msg, err := s.facade.StartVerification(r.Context(), actorID(r), in.IdentityNumber, in.Consent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Code string `json:"code"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	msg, err := s.facade.CompleteVerification(r.Context(), actorID(r), in.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	s.facade.ResendVerification(actorID(r))
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "enter your identity number again to receive a new code"})
}

// ---- admin ----

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.facade.Stats(actorID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.facade.ListUsers(actorID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleAdminSetActive(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Active bool `json:"active"`
	}
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.facade.SetUserActive(actorID(r), mux.Vars(r)["id"], in.Active)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleAdminRides(w http.ResponseWriter, r *http.Request) {
	filter := storage.RideFilter{
		From: r.URL.Query().Get("from"),
		To:   r.URL.Query().Get("to"),
	}
	if st := r.URL.Query().Get("status"); st != "" {
		filter.Statuses = []models.RideStatus{models.RideStatus(st)}
	}
	rides, err := s.facade.AdminListRides(actorID(r), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

// tripsHandler serves the fixed-status trip views.
func (s *Server) tripsHandler(statuses ...models.RideStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rides, err := s.facade.AdminListRides(actorID(r), storage.RideFilter{Statuses: statuses})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
	}
}

func (s *Server) handleAdminCancel(w http.ResponseWriter, r *http.Request) {
	ride, err := s.facade.CancelRide(actorID(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}
