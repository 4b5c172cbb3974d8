package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/field-training-api/internal/middleware"
	"github.com/noah-isme/field-training-api/internal/models"
)

// Handlers bundles every HTTP handler mounted under the API prefix.
type Handlers struct {
	Auth          *AuthHandler
	Students      *StudentHandler
	Supervisors   *SupervisorHandler
	Courses       *CourseHandler
	Groups        *GroupHandler
	Assignments   *AssignmentHandler
	Registrations *RegistrationHandler
	Grades        *GradeHandler
	Activity      *ActivityHandler
}

// RegisterRoutes mounts the API on api. authenticate verifies the bearer token.
func RegisterRoutes(api *gin.RouterGroup, h Handlers, authenticate gin.HandlerFunc) {
	var (
		admin      = middleware.RequireRoles(models.RoleAdmin)
		staff      = middleware.RequireRoles(models.RoleAdmin, models.RoleSupervisor)
		anyone     = middleware.RequireRoles(models.RoleAdmin, models.RoleSupervisor, models.RoleStudent)
		registrant = middleware.RequireRoles(models.RoleAdmin, models.RoleStudent)
	)

	api.POST("/auth/login", h.Auth.Login)

	secured := api.Group("")
	secured.Use(authenticate)

	secured.GET("/auth/me", anyone, h.Auth.Me)

	students := secured.Group("/students")
	students.GET("", staff, h.Students.List)
	students.GET("/:id", staff, h.Students.Get)
	students.POST("", admin, h.Students.Create)
	students.PUT("/:id", admin, h.Students.Update)
	students.DELETE("/:id", admin, h.Students.Delete)

	supervisors := secured.Group("/supervisors", admin)
	supervisors.GET("", h.Supervisors.List)
	supervisors.GET("/:id", h.Supervisors.Get)
	supervisors.POST("", h.Supervisors.Create)
	supervisors.PUT("/:id", h.Supervisors.Update)

	courses := secured.Group("/courses")
	courses.GET("", anyone, h.Courses.List)
	courses.GET("/:id", anyone, h.Courses.Get)
	courses.POST("", admin, h.Courses.Create)
	courses.PUT("/:id", admin, h.Courses.Update)
	courses.POST("/:id/status", admin, h.Courses.ChangeStatus)
	courses.POST("/:id/archive", admin, h.Courses.Archive)

	groups := secured.Group("/groups")
	groups.GET("", anyone, h.Groups.List)
	groups.GET("/:id", anyone, h.Groups.Get)
	groups.GET("/:id/availability", anyone, middleware.WithResponseMeta(), h.Groups.Availability)
	groups.POST("", admin, h.Groups.Create)
	groups.PUT("/:id", admin, h.Groups.Update)

	assignments := secured.Group("/assignments")
	assignments.GET("", anyone, h.Assignments.List)
	assignments.GET("/:id", anyone, h.Assignments.Get)
	assignments.DELETE("/:id", admin, h.Assignments.Cancel)
	assignments.PUT("/:id/evaluation", staff, h.Assignments.PutEvaluation)
	assignments.GET("/:id/evaluation", anyone, h.Assignments.GetEvaluation)

	registrations := secured.Group("/registrations", registrant)
	registrations.POST("", h.Registrations.Register)
	registrations.POST("/cancel", h.Registrations.Cancel)
	registrations.POST("/transfer", h.Registrations.Transfer)

	secured.POST("/grades/compute", anyone, h.Grades.Compute)
	secured.GET("/activity", admin, h.Activity.List)
}
