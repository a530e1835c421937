// Package rest is the registry's HTTP transport (A4): a gin router that
// translates requests into Facade calls and Facade errors into the
// status codes and body shape spec.md §6 defines, plus the ambient
// /healthz and /metrics endpoints.
package rest

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lattice-stream/registry/internal/compat"
	"github.com/lattice-stream/registry/internal/metrics"
	"github.com/lattice-stream/registry/internal/registry"
)

const requestIDHeader = "X-Request-Id"

// requestID assigns a correlation id to every request, reusing one the
// caller already supplied, so registry logs can be traced end to end.
func requestID(c *gin.Context) {
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.New().String()
	}
	c.Writer.Header().Set(requestIDHeader, id)
	c.Set("request_id", id)
	c.Next()
}

var facade *registry.Facade
var mtr *metrics.Metrics

// Init wires the transport to its Facade and Metrics. Must be called
// before SetupRouter.
func Init(f *registry.Facade, m *metrics.Metrics) {
	facade = f
	mtr = m
	slog.Info("REST transport initialized")
}

// ErrorResponse is the JSON body returned for every non-2xx response.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func writeError(c *gin.Context, err error) {
	var regErr *registry.Error
	if errors.As(err, &regErr) {
		c.JSON(regErr.Kind.HTTPStatus(), ErrorResponse{
			ErrorCode: string(regErr.Kind),
			Message:   regErr.Message,
		})
		return
	}
	slog.Error("unclassified registry error", "error", err, "request_id", c.GetString("request_id"))
	c.JSON(http.StatusInternalServerError, ErrorResponse{ErrorCode: "INTERNAL", Message: err.Error()})
}

// SchemaRequest is the payload for registration, lookup, and
// compatibility-test requests alike — they all carry just schema text.
type SchemaRequest struct {
	Schema string `json:"schema"`
}

// SchemaResponse returns a registration's assigned id and version.
type SchemaResponse struct {
	ID      int `json:"id"`
	Version int `json:"version"`
}

// SchemaTextResponse returns a schema's canonical text by id.
type SchemaTextResponse struct {
	Schema string `json:"schema"`
}

// VersionResponse is a subject/version/id/schema tuple.
type VersionResponse struct {
	Subject string `json:"subject"`
	Version int    `json:"version"`
	ID      int    `json:"id"`
	Schema  string `json:"schema"`
}

// CompatibilityResponse reports a compatibility test's outcome.
type CompatibilityResponse struct {
	IsCompatible bool   `json:"is_compatible"`
	Reason       string `json:"reason,omitempty"`
}

// ConfigRequest sets a compatibility policy.
type ConfigRequest struct {
	Compatibility string `json:"compatibility"`
}

// ConfigResponse returns a compatibility policy.
type ConfigResponse struct {
	CompatibilityLevel string `json:"compatibilityLevel"`
}

// SetupRouter builds the gin engine with every registry route mounted.
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/vnd.registry.v1+json")
		c.Next()
	})

	r.GET("/subjects", listSubjects)

	subjectGroup := r.Group("/subjects/:subject")
	{
		subjectGroup.GET("/versions", listVersions)
		subjectGroup.POST("/versions", registerSchema)
		subjectGroup.GET("/versions/:version", getVersion)
		subjectGroup.POST("", lookupSchema)
	}

	r.GET("/schemas/ids/:id", getSchemaByID)

	r.POST("/compatibility/subjects/:subject/versions/:version", testCompatibility)

	r.GET("/config", getGlobalConfig)
	r.PUT("/config", setGlobalConfig)
	r.GET("/config/:subject", getSubjectConfig)
	r.PUT("/config/:subject", setSubjectConfig)

	r.GET("/healthz", healthz)
	if mtr != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(mtr.Registry(), promhttp.HandlerOpts{})))
	}

	return r
}

// Routes returns an http.Handler, for callers that only need the
// http.Handler interface.
func Routes() http.Handler { return SetupRouter() }

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func listSubjects(c *gin.Context) {
	c.JSON(http.StatusOK, facade.ListSubjects())
}

func listVersions(c *gin.Context) {
	subject := c.Param("subject")
	versions, err := facade.ListVersions(subject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}

func registerSchema(c *gin.Context) {
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: "INVALID_SCHEMA", Message: "invalid JSON body"})
		return
	}

	res, err := facade.Register(c.Request.Context(), subject, req.Schema)
	if err != nil {
		recordRegistrationFailure(subject, err)
		writeForwardableError(c, err)
		return
	}
	if mtr != nil {
		mtr.Registrations.WithLabelValues(subject).Inc()
	}
	c.JSON(http.StatusOK, SchemaResponse{ID: res.SchemaID, Version: res.Version})
}

func recordRegistrationFailure(subject string, err error) {
	if mtr == nil {
		return
	}
	var regErr *registry.Error
	kind := "UNKNOWN"
	if errors.As(err, &regErr) {
		kind = string(regErr.Kind)
	}
	mtr.RegistrationsFailed.WithLabelValues(subject, kind).Inc()
}

// writeForwardableError is writeError plus an X-Registry-Primary header
// carrying the primary's endpoint when this node rejected a write because
// it is a replica, so a client or reverse proxy can retry there directly.
func writeForwardableError(c *gin.Context, err error) {
	var regErr *registry.Error
	if errors.As(err, &regErr) && regErr.Kind == registry.KindNotPrimary {
		if ep, ok := facade.CoordinatorPrimaryEndpoint(); ok {
			c.Writer.Header().Set("X-Registry-Primary", ep)
		}
		if mtr != nil {
			mtr.ReplicaForwardedTotal.Inc()
		}
	}
	writeError(c, err)
}

func getSchemaByID(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{ErrorCode: "INVALID_SCHEMA", Message: "schema id must be an integer"})
		return
	}

	schema, ferr := facade.GetSchemaByID(id)
	if ferr != nil {
		writeError(c, ferr)
		return
	}
	c.JSON(http.StatusOK, SchemaTextResponse{Schema: schema.CanonicalText})
}

func getVersion(c *gin.Context) {
	subject := c.Param("subject")
	version, err := parseVersionParam(c.Param("version"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{ErrorCode: "INVALID_VERSION", Message: err.Error()})
		return
	}

	v, schema, ferr := facade.GetVersion(subject, version)
	if ferr != nil {
		writeError(c, ferr)
		return
	}
	c.JSON(http.StatusOK, VersionResponse{
		Subject: subject,
		Version: v.Number,
		ID:      v.SchemaID,
		Schema:  schema.CanonicalText,
	})
}

func parseVersionParam(raw string) (int, error) {
	if raw == "latest" {
		return registry.Latest, nil
	}
	return strconv.Atoi(raw)
}

func lookupSchema(c *gin.Context) {
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: "INVALID_SCHEMA", Message: "invalid JSON body"})
		return
	}

	v, err := facade.Lookup(subject, req.Schema)
	if err != nil {
		writeError(c, err)
		return
	}
	schema, err := facade.GetSchemaByID(v.SchemaID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, VersionResponse{
		Subject: subject,
		Version: v.Number,
		ID:      v.SchemaID,
		Schema:  schema.CanonicalText,
	})
}

func testCompatibility(c *gin.Context) {
	subject := c.Param("subject")
	version, err := parseVersionParam(c.Param("version"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{ErrorCode: "INVALID_VERSION", Message: err.Error()})
		return
	}

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: "INVALID_SCHEMA", Message: "invalid JSON body"})
		return
	}

	result, ferr := facade.TestCompatibility(subject, version, req.Schema)
	if ferr != nil {
		writeError(c, ferr)
		return
	}
	if mtr != nil {
		mtr.CompatibilityChecks.WithLabelValues(string(facadePolicyOrEmpty(subject)), strconv.FormatBool(result.Compatible)).Inc()
	}
	c.JSON(http.StatusOK, CompatibilityResponse{IsCompatible: result.Compatible, Reason: result.Reason})
}

func facadePolicyOrEmpty(subject string) compat.Policy {
	policy, err := facade.GetConfig(subject, true)
	if err != nil {
		return ""
	}
	return policy
}

func getGlobalConfig(c *gin.Context) {
	policy, err := facade.GetConfig("", false)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: string(policy)})
}

func setGlobalConfig(c *gin.Context) {
	setConfig(c, "")
}

func getSubjectConfig(c *gin.Context) {
	subject := c.Param("subject")
	defaultToGlobal := c.Query("defaultToGlobal") == "true"

	policy, err := facade.GetConfig(subject, defaultToGlobal)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: string(policy)})
}

func setSubjectConfig(c *gin.Context) {
	setConfig(c, c.Param("subject"))
}

func setConfig(c *gin.Context, subject string) {
	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: "INVALID_SCHEMA", Message: "invalid JSON body"})
		return
	}

	policy := compat.Policy(req.Compatibility)
	if err := facade.SetConfig(c.Request.Context(), subject, policy); err != nil {
		writeForwardableError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: req.Compatibility})
}
