package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/smash0190/endlesspool/internal/pool"
	"github.com/smash0190/endlesspool/internal/protocol"
	"github.com/smash0190/endlesspool/internal/strava"
	"github.com/smash0190/endlesspool/internal/tcx"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	update, ok := s.hub.Latest()
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("no broadcast received yet"))
		return
	}
	s.writeJSON(w, http.StatusOK, update)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		PIN  string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := s.users.Create(body.Name, body.PIN)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := s.users.VerifyPIN(r.PathValue("userID"), body.PIN)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.users.Delete(r.PathValue("userID")); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := s.programs.List(r.PathValue("userID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, programs)
}

func (s *Server) handleSaveProgram(w http.ResponseWriter, r *http.Request) {
	var prog pool.Program
	if err := json.NewDecoder(r.Body).Decode(&prog); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := s.programs.Save(r.PathValue("userID"), prog)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteProgram(w http.ResponseWriter, r *http.Request) {
	err := s.programs.Delete(r.PathValue("userID"), r.PathValue("programID"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListWorkouts(w http.ResponseWriter, r *http.Request) {
	workouts, err := s.workouts.List(r.PathValue("userID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, workouts)
}

func (s *Server) handleDeleteWorkout(w http.ResponseWriter, r *http.Request) {
	err := s.workouts.Delete(r.PathValue("userID"), r.PathValue("workoutID"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleExportWorkout(w http.ResponseWriter, r *http.Request) {
	workoutID := r.PathValue("workoutID")
	workout, err := s.workouts.Get(r.PathValue("userID"), workoutID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	doc, err := tcx.Generate(workout)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "workout_"+workoutID+".tcx"))
	w.Write(doc)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	settings, err := s.strava.LoadSettings(userID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	// The client secret never leaves the server.
	s.writeJSON(w, http.StatusOK, map[string]any{
		"strava_client_id": settings.ClientID,
		"strava_connected": s.strava.Connected(userID),
	})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	var body struct {
		ClientID     *string `json:"strava_client_id"`
		ClientSecret *string `json:"strava_client_secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	settings, err := s.strava.LoadSettings(userID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if body.ClientID != nil {
		settings.ClientID = *body.ClientID
	}
	if body.ClientSecret != nil {
		settings.ClientSecret = *body.ClientSecret
	}
	if err := s.strava.SaveSettings(userID, settings); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStravaAuth(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	redirectURI := fmt.Sprintf("%s://%s/api/strava/callback", scheme, r.Host)
	url, err := s.strava.AuthURL(r.PathValue("userID"), redirectURI)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleStravaCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	userID := r.URL.Query().Get("state")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := s.strava.ExchangeCode(userID, code); err != nil {
		fmt.Fprintf(w, "<h2>Strava connection failed</h2><p>%s</p>", err)
		return
	}
	fmt.Fprint(w, "<h2>Strava connected successfully!</h2>"+
		"<p>You can close this tab and return to the app.</p>"+
		"<script>setTimeout(()=>window.close(),2000)</script>")
}

func (s *Server) handleStravaUpload(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	workout, err := s.workouts.Get(userID, r.PathValue("workoutID"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	doc, err := tcx.Generate(workout)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	name := fmt.Sprintf("Pool Swim - %.0fm in %s",
		workout.TotalDistance, protocol.FormatTimer(workout.TotalTime))
	result, err := s.strava.UploadTCX(userID, doc, name, "")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("strava upload failed: %w", err))
		return
	}
	s.writeStravaResult(w, result)
}

func (s *Server) writeStravaResult(w http.ResponseWriter, result *strava.UploadStatus) {
	switch {
	case result.ActivityID != 0:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"ok":          true,
			"activity_id": result.ActivityID,
			"url":         fmt.Sprintf("https://www.strava.com/activities/%d", result.ActivityID),
		})
	case result.Error != "":
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("strava error: %s", result.Error))
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"ok": true, "status": "processing", "upload_id": result.ID,
		})
	}
}

func (s *Server) handleRunState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runner.State())
}

// handleRunStart launches a stored program for a user.
func (s *Server) handleRunStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID    string `json:"user_id"`
		ProgramID string `json:"program_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	programs, err := s.programs.List(body.UserID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	var prog *pool.Program
	for i := range programs {
		if programs[i].ID == body.ProgramID {
			prog = &programs[i]
			break
		}
	}
	if prog == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("program %s not found", body.ProgramID))
		return
	}
	s.recorder.SetUser(body.UserID)
	if err := s.runner.Launch(prog, body.UserID); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.runner.State())
}

func (s *Server) handleRunAdjustPace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Delta int `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.runner.AdjustPace(body.Delta)
	s.writeJSON(w, http.StatusOK, s.runner.State())
}

func (s *Server) handleRunCancel(w http.ResponseWriter, r *http.Request) {
	s.runner.Cancel()
	s.writeJSON(w, http.StatusOK, s.runner.State())
}
