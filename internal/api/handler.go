package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/medchain-server/internal/models"
	"github.com/rongwang/medchain-server/internal/service"
	"github.com/rongwang/medchain-server/internal/utils"
)

// MaxUploadSize caps report attachments
const MaxUploadSize = 10 << 20

// Handler serves the HTTP API on top of the service
type Handler struct {
	svc       service.Service
	jwtSecret []byte
	log       *utils.Logger
}

// NewHandler creates a new Handler
func NewHandler(svc service.Service, jwtSecret string, log *utils.Logger) *Handler {
	if log == nil {
		log = utils.NopLogger()
	}
	return &Handler{
		svc:       svc,
		jwtSecret: []byte(jwtSecret),
		log:       log,
	}
}

// SetupRoutes registers every route on router
func (h *Handler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api")

	auth := api.Group("/auth")
	auth.POST("/signup", h.SignUp)
	auth.POST("/login", h.Login)

	protected := api.Group("")
	protected.Use(AuthMiddleware(h.jwtSecret, h.svc))

	protected.GET("/users", h.ListUsers)
	protected.GET("/users/me", h.GetMe)
	protected.PUT("/users/me/profile", h.UpdateProfile)
	protected.GET("/permissions", h.ListMyPermissions)

	patients := protected.Group("/patients/:id")
	patients.POST("/grants", h.Grant)
	patients.DELETE("/grants/:granteeId", h.Revoke)
	patients.GET("/access/:granteeId", h.HasAccess)
	patients.POST("/reports", h.AddReport)
	patients.POST("/notes", h.AddNote)
	patients.GET("/history", h.GetHistory)
	patients.POST("/prescriptions", h.AddPrescription)
	patients.GET("/prescriptions", h.ListPrescriptions)
	patients.DELETE("/prescriptions/:rxId", h.RemovePrescription)
	patients.GET("/ledger", h.GetLedger)

	protected.GET("/records/:id/file", h.DownloadFile)
}

// Authentication handlers
func (h *Handler) SignUp(c *gin.Context) {
	var req models.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.svc.SignUp(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.AuthResponse{
		Status: "success",
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
	})
}

func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.svc.Login(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Identity handlers
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.svc.ListUsersByRole(c.Request.Context(), models.Role(c.Query("role")))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.UsersResponse{Status: "success", Users: users})
}

func (h *Handler) GetMe(c *gin.Context) {
	user, err := h.svc.GetUser(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var profile models.Profile
	if err := c.ShouldBindJSON(&profile); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.svc.UpdateProfile(c.Request.Context(), callerFrom(c), profile)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Permission handlers
func (h *Handler) ListMyPermissions(c *gin.Context) {
	resp, err := h.svc.ListMyPermissions(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Grant(c *gin.Context) {
	var req models.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	perm, err := h.svc.Grant(c.Request.Context(), callerFrom(c), c.Param("id"), req.GranteeID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, perm)
}

func (h *Handler) Revoke(c *gin.Context) {
	if err := h.svc.Revoke(c.Request.Context(), callerFrom(c), c.Param("id"), c.Param("granteeId")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{Status: "success", Message: "Access revoked"})
}

func (h *Handler) HasAccess(c *gin.Context) {
	patientID, doctorID := c.Param("id"), c.Param("granteeId")
	ok, err := h.svc.HasAccess(c.Request.Context(), callerFrom(c), patientID, doctorID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.AccessResponse{
		Status:    "success",
		PatientID: patientID,
		DoctorID:  doctorID,
		HasAccess: ok,
	})
}

// History handlers
func (h *Handler) AddReport(c *gin.Context) {
	var upload *service.FileUpload

	header, err := c.FormFile("file")
	switch {
	case err == nil:
		if header.Size > MaxUploadSize {
			badRequest(c, fmt.Errorf("file exceeds %d bytes", MaxUploadSize))
			return
		}
		f, err := header.Open()
		if err != nil {
			badRequest(c, err)
			return
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, MaxUploadSize))
		if err != nil {
			badRequest(c, err)
			return
		}
		upload = &service.FileUpload{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}
	case errors.Is(err, http.ErrMissingFile):
	default:
		badRequest(c, err)
		return
	}

	record, err := h.svc.AddReport(c.Request.Context(), callerFrom(c), c.Param("id"), c.PostForm("title"), upload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.RecordResponse{Status: "success", Record: *record})
}

func (h *Handler) AddNote(c *gin.Context) {
	var req models.NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	record, err := h.svc.AddNote(c.Request.Context(), callerFrom(c), c.Param("id"), req.Text)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.RecordResponse{Status: "success", Record: *record})
}

func (h *Handler) GetHistory(c *gin.Context) {
	records, err := h.svc.GetHistory(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.HistoryResponse{Status: "success", Records: records})
}

func (h *Handler) DownloadFile(c *gin.Context) {
	record, blob, err := h.svc.DownloadFile(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	name := record.Title
	if name == "" {
		name = "medical-report"
	}
	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, contentType, blob.Data)
}

// Prescription handlers
func (h *Handler) AddPrescription(c *gin.Context) {
	var req models.PrescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rx, err := h.svc.AddPrescription(c.Request.Context(), callerFrom(c), c.Param("id"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.PrescriptionResponse{Status: "success", Prescription: *rx})
}

func (h *Handler) ListPrescriptions(c *gin.Context) {
	rxs, err := h.svc.ListPrescriptions(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.PrescriptionsResponse{Status: "success", Prescriptions: rxs})
}

func (h *Handler) RemovePrescription(c *gin.Context) {
	if err := h.svc.RemovePrescription(c.Request.Context(), callerFrom(c), c.Param("rxId"), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{Status: "success", Message: "Prescription removed"})
}

// Ledger handlers
func (h *Handler) GetLedger(c *gin.Context) {
	resp, err := h.svc.GetLedger(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
