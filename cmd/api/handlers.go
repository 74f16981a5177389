package main

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/course"
	"rollcall/internal/queue"
	"rollcall/internal/realtime"
	"rollcall/internal/store"
)

type server struct {
	cfg         config.App
	courses     course.Repository
	sessions    attendance.Repository
	manager     *attendance.Manager
	gate        *attendance.Gate
	stats       *attendance.Stats
	fanout      *realtime.Fanout
	work        queue.Queue
	rosterCache *store.RosterCache
}

func (s *server) registerRoutes(g *gin.RouterGroup) {
	professor := auth.RequireRole(auth.RoleProfessor)
	student := auth.RequireRole(auth.RoleStudent)

	g.POST("/courses", professor, s.createCourse)
	g.GET("/courses", s.listCourses)
	g.GET("/courses/:id", s.getCourse)
	g.PUT("/courses/:id", professor, s.updateCourse)
	g.DELETE("/courses/:id", professor, s.deleteCourse)

	g.POST("/courses/:id/enrollments", student, s.enroll)
	g.DELETE("/courses/:id/enrollments", student, s.drop)
	g.GET("/courses/:id/students", s.listStudents)

	g.POST("/courses/:id/attendance/start", professor, s.startAttendance)
	g.POST("/courses/:id/attendance/stop", professor, s.stopAttendance)
	g.GET("/courses/:id/attendance/active", s.activeSession)

	g.GET("/courses/:id/roster", s.roster)
	g.GET("/courses/:id/rate", s.myRate)
	g.GET("/courses/:id/stream", s.streamCourse)

	g.POST("/sessions/:id/checkins", student, s.checkIn)
	g.GET("/sessions/:id/checkins", s.listCheckIns)
	g.GET("/sessions/:id/stream", s.streamSession)
}

func (s *server) createUser(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required,email"`
		Name        string `json:"name" binding:"required"`
		IsProfessor bool   `json:"is_professor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := s.courses.CreateUser(c.Request.Context(), course.User{
		Email:       req.Email,
		Name:        req.Name,
		IsProfessor: req.IsProfessor,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *server) issueToken(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := s.courses.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if u == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
		return
	}
	role := auth.RoleStudent
	if u.IsProfessor {
		role = auth.RoleProfessor
	}
	token, expiresAt, err := auth.Issue(u.ID, role, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"expires_at":   expiresAt.Unix(),
		"user":         u,
	})
}

type coursePayload struct {
	Name      string   `json:"name" binding:"required"`
	Code      string   `json:"code" binding:"required"`
	Schedule  string   `json:"schedule"`
	Location  string   `json:"location"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (s *server) createCourse(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	var req coursePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	crs, err := s.courses.CreateCourse(c.Request.Context(), course.Course{
		ProfessorID: claims.Subject,
		Name:        req.Name,
		Code:        req.Code,
		Schedule:    req.Schedule,
		Location:    req.Location,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, crs)
}

// listCourses supports scope=all (default, for enrollment browsing),
// scope=teaching and scope=enrolled.
func (s *server) listCourses(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	ctx := c.Request.Context()

	var (
		list []course.Course
		err  error
	)
	switch c.Query("scope") {
	case "teaching":
		list, err = s.courses.ListProfessorCourses(ctx, claims.Subject)
	case "enrolled":
		list, err = s.courses.ListStudentCourses(ctx, claims.Subject)
	default:
		list, err = s.courses.ListCourses(ctx)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": list})
}

func (s *server) getCourse(c *gin.Context) {
	crs, ok := s.fetchCourse(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, crs)
}

func (s *server) updateCourse(c *gin.Context) {
	crs, ok := s.ownedCourse(c)
	if !ok {
		return
	}
	var req coursePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	crs.Name = req.Name
	crs.Code = req.Code
	crs.Schedule = req.Schedule
	crs.Location = req.Location
	crs.Latitude = req.Latitude
	crs.Longitude = req.Longitude
	updated, err := s.courses.UpdateCourse(c.Request.Context(), *crs)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// deleteCourse permanently removes the course with all its attendance
// sessions, check-ins and enrollments.
func (s *server) deleteCourse(c *gin.Context) {
	crs, ok := s.ownedCourse(c)
	if !ok {
		return
	}
	if err := s.courses.DeleteCourse(c.Request.Context(), crs.ID); err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.rosterCache.Invalidate(c.Request.Context(), crs.ID); err != nil {
		log.Printf("roster cache invalidate failed for %s: %v", crs.ID, err)
	}
	c.Status(http.StatusNoContent)
}

func (s *server) enroll(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	crs, ok := s.fetchCourse(c)
	if !ok {
		return
	}
	e, err := s.courses.Enroll(c.Request.Context(), claims.Subject, crs.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (s *server) drop(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	if err := s.courses.Drop(c.Request.Context(), claims.Subject, c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) listStudents(c *gin.Context) {
	students, err := s.courses.ListStudents(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (s *server) startAttendance(c *gin.Context) {
	crs, ok := s.ownedCourse(c)
	if !ok {
		return
	}
	session, err := s.manager.StartSession(c.Request.Context(), crs.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *server) stopAttendance(c *gin.Context) {
	crs, ok := s.ownedCourse(c)
	if !ok {
		return
	}
	session, err := s.manager.StopSession(c.Request.Context(), crs.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if session == nil {
		// nothing to stop, documented no-op
		c.JSON(http.StatusOK, gin.H{"session": nil})
		return
	}
	if err := s.work.Publish(c.Request.Context(), queue.Message{Type: "session_closed", Body: []byte(crs.ID)}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (s *server) activeSession(c *gin.Context) {
	session, err := s.manager.ActiveSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "is_active": session != nil})
}

func (s *server) checkIn(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	var req struct {
		Latitude  *float64 `json:"latitude" binding:"required"`
		Longitude *float64 `json:"longitude" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	session, err := s.sessions.GetSession(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	ci, err := s.gate.CheckIn(ctx, session, claims.Subject, attendance.Location{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ci)
}

func (s *server) listCheckIns(c *gin.Context) {
	list, err := s.sessions.ListCheckIns(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"check_ins": list})
}

func (s *server) roster(c *gin.Context) {
	crs, ok := s.fetchCourse(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if cached, ok := s.rosterCache.Get(ctx, crs.ID); ok {
		c.JSON(http.StatusOK, gin.H{"roster": cached, "cached": true})
		return
	}
	roster, err := s.stats.CourseRoster(ctx, crs.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.rosterCache.Set(ctx, crs.ID, roster); err != nil {
		log.Printf("roster cache set failed for %s: %v", crs.ID, err)
	}
	c.JSON(http.StatusOK, gin.H{"roster": roster, "cached": false})
}

func (s *server) myRate(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	rate, err := s.stats.AttendanceRate(c.Request.Context(), claims.Subject, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance_rate": rate})
}

// streamCourse pushes {session, is_active} over SSE: a snapshot on connect,
// then one event per session change for the course.
func (s *server) streamCourse(c *gin.Context) {
	updates := make(chan realtime.CourseUpdate, 8)
	cancel, err := s.fanout.SubscribeCourse(c.Request.Context(), c.Param("id"), func(u realtime.CourseUpdate) {
		select {
		case updates <- u:
		default:
			// client is behind; the next emission carries full state anyway
		}
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer cancel()

	sseHeaders(c)
	c.Stream(func(w io.Writer) bool {
		select {
		case u := <-updates:
			c.SSEvent("session", u)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// streamSession pushes the full check-in list over SSE on every change.
func (s *server) streamSession(c *gin.Context) {
	type checkInsEvent struct {
		CheckIns []attendance.CheckIn `json:"check_ins"`
	}
	updates := make(chan checkInsEvent, 8)
	cancel, err := s.fanout.SubscribeSession(c.Request.Context(), c.Param("id"), func(list []attendance.CheckIn) {
		select {
		case updates <- checkInsEvent{CheckIns: list}:
		default:
		}
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer cancel()

	sseHeaders(c)
	c.Stream(func(w io.Writer) bool {
		select {
		case u := <-updates:
			c.SSEvent("check_ins", u)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
}

// fetchCourse loads the :id course or writes a 404.
func (s *server) fetchCourse(c *gin.Context) (*course.Course, bool) {
	crs, err := s.courses.GetCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return nil, false
	}
	if crs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "course not found"})
		return nil, false
	}
	return crs, true
}

// ownedCourse loads the :id course and verifies the caller owns it.
func (s *server) ownedCourse(c *gin.Context) (*course.Course, bool) {
	crs, ok := s.fetchCourse(c)
	if !ok {
		return nil, false
	}
	claims, _ := auth.FromContext(c)
	if crs.ProfessorID != claims.Subject {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your course"})
		return nil, false
	}
	return crs, true
}

// writeError maps domain errors onto HTTP statuses with enough context for
// the caller to retry meaningfully.
func (s *server) writeError(c *gin.Context, err error) {
	var proximity *attendance.ProximityError
	switch {
	case errors.As(err, &proximity):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":        proximity.Error(),
			"distance_ft":  proximity.DistanceFt,
			"threshold_ft": proximity.ThresholdFt,
		})
	case errors.Is(err, attendance.ErrSessionAlreadyActive),
		errors.Is(err, attendance.ErrAlreadyCheckedIn),
		errors.Is(err, attendance.ErrSessionNotActive),
		errors.Is(err, course.ErrAlreadyEnrolled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, course.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable, try again"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
