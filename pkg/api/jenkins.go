package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethpandaops/jenkdash/pkg/jenkins"
	"github.com/ethpandaops/jenkdash/pkg/store"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

const (
	msgDisconnected  = "Disconnected from Jenkins server"
	msgConfigUpdated = "Job configuration updated successfully"
	msgScriptUpdated = "Pipeline script updated successfully"
	msgNoScript      = "No pipeline script found in job configuration"

	// refreshTimeout bounds the job poll kicked off after a connect.
	refreshTimeout = 30 * time.Second
)

// Envelope wraps every /jenkins response.
type Envelope struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message,omitempty" example:"Connected successfully to Jenkins v2.440.1"`
	Data    any    `json:"data,omitempty"`
}

func (s *server) writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	s.writeJSON(w, status, env)
}

func (s *server) ok(w http.ResponseWriter, message string, data any) {
	s.writeEnvelope(w, http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

func (s *server) badRequest(w http.ResponseWriter, message string) {
	s.writeEnvelope(w, http.StatusBadRequest, Envelope{Message: message})
}

// fail maps a client error onto the status convention: 400 when no session
// exists, 200 with success false for classified Jenkins failures, 500 for
// anything else.
func (s *server) fail(w http.ResponseWriter, err error) {
	switch kind := jenkins.KindOf(err); {
	case kind == jenkins.KindNotConnected:
		s.writeEnvelope(w, http.StatusBadRequest, Envelope{Message: err.Error()})
	case kind != "":
		s.writeEnvelope(w, http.StatusOK, Envelope{Message: err.Error()})
	default:
		s.log.WithError(err).Error("Unexpected error handling Jenkins request")
		s.writeEnvelope(w, http.StatusInternalServerError, Envelope{Message: "Internal server error"})
	}
}

func (s *server) connectionStatus() ConnectionStatus {
	return ConnectionStatus{
		Connected: s.jenkins.IsConnected(),
		BaseURL:   s.jenkins.BaseURL(),
	}
}

// jobName reads the {name} parameter. chi routes on RawPath when the request
// carries one (an escaped "/" in the name), and only then is the parameter
// still percent-encoded.
func jobName(r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")

	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(name)
		if err != nil {
			return "", false
		}

		name = unescaped
	}

	if strings.TrimSpace(name) == "" {
		return "", false
	}

	return name, true
}

// maxBodySize caps request bodies. Job configs are the largest payload.
const maxBodySize = 8 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(dst)
}

// ============================================================================
// Session
// ============================================================================

// ConnectRequest is the body of POST /jenkins/connect.
type ConnectRequest struct {
	URL      string `json:"url" example:"https://ci.example.com"`
	Username string `json:"username" example:"admin"`
	Password string `json:"password" example:"api-token"`
}

// handleConnect godoc
//
//	@Summary		Connect to Jenkins
//	@Description	Probes the Jenkins root API with the given credentials and keeps the session on success
//	@Tags			jenkins
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ConnectRequest	true	"Jenkins URL and credentials"
//	@Success		200		{object}	Envelope
//	@Failure		400		{object}	Envelope
//	@Router			/jenkins/connect [post]
func (s *server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.badRequest(w, "Invalid request body")

		return
	}

	if strings.TrimSpace(req.URL) == "" {
		s.badRequest(w, "Jenkins URL is required")

		return
	}

	message, err := s.jenkins.Connect(r.Context(), req.URL, req.Username, req.Password)
	s.hub.BroadcastConnectionStatus(s.connectionStatus())

	if err != nil {
		s.log.WithError(err).WithField("url", req.URL).Warn("Jenkins connect failed")
		s.fail(w, err)

		return
	}

	s.log.WithFields(logrus.Fields{"url": s.jenkins.BaseURL(), "username": req.Username}).Info(message)
	s.recordAudit(r, store.AuditActionJenkinsConnect, store.AuditEntityJenkins, s.jenkins.BaseURL(), message)

	if s.watcher != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()

			if err := s.watcher.ForceRefresh(ctx); err != nil {
				s.log.WithError(err).Debug("Post-connect job refresh failed")
			}
		}()
	}

	s.ok(w, message, s.connectionStatus())
}

// handleDisconnect godoc
//
//	@Summary		Disconnect from Jenkins
//	@Description	Drops the Jenkins session. Always succeeds.
//	@Tags			jenkins
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	Envelope
//	@Router			/jenkins/disconnect [post]
func (s *server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	baseURL := s.jenkins.BaseURL()
	wasConnected := s.jenkins.IsConnected()

	s.jenkins.Disconnect()
	s.hub.BroadcastConnectionStatus(ConnectionStatus{})

	if wasConnected {
		s.recordAudit(r, store.AuditActionJenkinsDisconnect, store.AuditEntityJenkins, baseURL, "")
	}

	s.ok(w, msgDisconnected, ConnectionStatus{})
}

// handleJenkinsStatus godoc
//
//	@Summary		Connection status
//	@Tags			jenkins
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	Envelope{data=ConnectionStatus}
//	@Router			/jenkins/status [get]
func (s *server) handleJenkinsStatus(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, "", s.connectionStatus())
}

// handleTestConnection godoc
//
//	@Summary		Test connection
//	@Description	Re-probes the root API and the current user endpoint
//	@Tags			jenkins
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	Envelope
//	@Failure		400	{object}	Envelope	"Not connected"
//	@Router			/jenkins/test [get]
func (s *server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	message, err := s.jenkins.TestConnection(r.Context())
	if err != nil {
		s.fail(w, err)

		return
	}

	s.ok(w, message, nil)
}

// ============================================================================
// Jobs
// ============================================================================

// JobView is a job with its derived status label.
type JobView struct {
	jenkins.Job
	Status   string `json:"status" example:"SUCCESS"`
	Building bool   `json:"building" example:"false"`
}

func newJobView(j jenkins.Job) JobView {
	return JobView{Job: j, Status: j.Status(), Building: j.Building()}
}

// JobDetailView is a job detail with its config and pipeline script attached
// when they could be fetched.
type JobDetailView struct {
	*jenkins.JobDetail
	Status         string `json:"status" example:"SUCCESS"`
	Building       bool   `json:"building" example:"false"`
	ConfigXML      string `json:"config_xml,omitempty"`
	PipelineScript string `json:"pipeline_script,omitempty"`
}

// handleListJobs godoc
//
//	@Summary		List jobs
//	@Tags			jenkins
//	@Security		BearerAuth
//	@Produce		json
//	@Param			view	query		string	false	"View name; empty or All lists every job"
//	@Success		200		{object}	Envelope{data=[]JobView}
//	@Failure		400		{object}	Envelope	"Not connected"
//	@Router			/jenkins/jobs [get]
func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jenkins.ListJobs(r.Context(), r.URL.Query().Get("view"))
	if err != nil {
		s.fail(w, err)

		return
	}

	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, newJobView(j))
	}

	s.ok(w, "", views)
}

// handleGetJob godoc
//
//	@Summary		Job detail
//	@Description	Returns the job, its builds, its config.xml and the pipeline script if present
//	@Tags			jenkins
//	@Security		BearerAuth
//	@Produce		json
//	@Param			name	path		string	true	"Job name"
//	@Success		200		{object}	Envelope{data=JobDetailView}
//	@Failure		400		{object}	Envelope
//	@Router			/jenkins/jobs/{name} [get]
func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	name, ok := jobName(r)
	if !ok {
		s.badRequest(w, "Job name is required")

		return
	}

	detail, err := s.jenkins.GetJobDetail(r.Context(), name)
	if err != nil {
		s.fail(w, err)

		return
	}

	view := JobDetailView{
		JobDetail: detail,
		Status:    detail.Status(),
		Building:  detail.Building(),
	}

	// Config access may need more permissions than reading the job.
	if configXML, err := s.jenkins.GetJobConfig(r.Context(), name); err == nil {
		view.ConfigXML = configXML

		if script, err := jenkins.ExtractPipelineScript(configXML); err == nil {
			view.PipelineScript = script
		}
	} else {
		s.log.WithError(err).WithField("job", name).Debug("Job config unavailable")
	}

	s.ok(w, "", view)
}

// JobConfig carries a job's config.xml.
type JobConfig struct {
	ConfigXML string `json:"config_xml" example:"<project/>"`
}

// handleGetJobConfig godoc
//
//	@Summary		Job config
//	@Tags			jenkins
//	@Security		BearerAuth
//	@Produce		json
//	@Param			name	path		string	true	"Job name"
//	@Success		200		{object}	Envelope{data=JobConfig}
//	@Failure		400		{object}	Envelope
//	@Router			/jenkins/jobs/{name}/config [get]
func (s *server) handleGetJobConfig(w http.ResponseWriter, r *http.Request) {
	name, ok := jobName(r)
	if !ok {
		s.badRequest(w, "Job name is required")

		return
	}

	configXML, err := s.jenkins.GetJobConfig(r.Context(), name)
	if err != nil {
		s.fail(w, err)

		return
	}

	s.ok(w, "", JobConfig{ConfigXML: configXML})
}

// handleUpdateJobConfig godoc
//
//	@Summary		Update job config
//	@Tags			jenkins
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string		true	"Job name"
//	@Param			body	body		JobConfig	true	"New config.xml"
//	@Success		200		{object}	Envelope
//	@Failure		400		{object}	Envelope
//	@Router			/jenkins/jobs/{name}/config [put]
func (s *server) handleUpdateJobConfig(w http.ResponseWriter, r *http.Request) {
	name, ok := jobName(r)
	if !ok {
		s.badRequest(w, "Job name is required")

		return
	}

	var req JobConfig
	if err := decodeBody(w, r, &req); err != nil {
		s.badRequest(w, "Invalid request body")

		return
	}

	if strings.TrimSpace(req.ConfigXML) == "" {
		s.badRequest(w, "config_xml is required")

		return
	}

	if err := s.jenkins.UpdateJobConfig(r.Context(), name, req.ConfigXML); err != nil {
		s.fail(w, err)

		return
	}

	s.recordAudit(r, store.AuditActionJobConfigUpdated, store.AuditEntityJob, name, "config.xml")
	s.ok(w, msgConfigUpdated, nil)
}

// PipelineScript carries the text of a job's pipeline script.
type PipelineScript struct {
	Script string `json:"script" example:"pipeline { agent any }"`
}

// handleGetJobScript godoc
//
//	@Summary		Pipeline script
//	@Description	Extracts the pipeline script from the job's config.xml
//	@Tags			jenkins
//	@Security		BearerAuth
//	@Produce		json
//	@Param			name	path		string	true	"Job name"
//	@Success		200		{object}	Envelope{data=PipelineScript}
//	@Failure		400		{object}	Envelope
//	@Router			/jenkins/jobs/{name}/script [get]
func (s *server) handleGetJobScript(w http.ResponseWriter, r *http.Request) {
	name, ok := jobName(r)
	if !ok {
		s.badRequest(w, "Job name is required")

		return
	}

	configXML, err := s.jenkins.GetJobConfig(r.Context(), name)
	if err != nil {
		s.fail(w, err)

		return
	}

	script, err := jenkins.ExtractPipelineScript(configXML)
	if err != nil {
		s.scriptError(w, err)

		return
	}

	s.ok(w, "", PipelineScript{Script: script})
}

// handleUpdateJobScript godoc
//
//	@Summary		Replace pipeline script
//	@Description	Fetches config.xml, swaps the script text and posts the config back
//	@Tags			jenkins
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string			true	"Job name"
//	@Param			body	body		PipelineScript	true	"New script"
//	@Success		200		{object}	Envelope
//	@Failure		400		{object}	Envelope
//	@Router			/jenkins/jobs/{name}/script [put]
func (s *server) handleUpdateJobScript(w http.ResponseWriter, r *http.Request) {
	name, ok := jobName(r)
	if !ok {
		s.badRequest(w, "Job name is required")

		return
	}

	var req PipelineScript
	if err := decodeBody(w, r, &req); err != nil {
		s.badRequest(w, "Invalid request body")

		return
	}

	configXML, err := s.jenkins.GetJobConfig(r.Context(), name)
	if err != nil {
		s.fail(w, err)

		return
	}

	updated, err := jenkins.ReplacePipelineScript(configXML, req.Script)
	if err != nil {
		s.scriptError(w, err)

		return
	}

	if err := s.jenkins.UpdateJobConfig(r.Context(), name, updated); err != nil {
		s.fail(w, err)

		return
	}

	s.recordAudit(r, store.AuditActionJobConfigUpdated, store.AuditEntityJob, name, "pipeline script")
	s.ok(w, msgScriptUpdated, nil)
}

// scriptError reports a config that has no script or does not parse. Both
// describe Jenkins data, so they are operational failures.
func (s *server) scriptError(w http.ResponseWriter, err error) {
	message := "Error parsing job config: " + err.Error()
	if errors.Is(err, jenkins.ErrNoPipelineScript) {
		message = msgNoScript
	}

	s.writeEnvelope(w, http.StatusOK, Envelope{Message: message})
}

// ============================================================================
// Server
// ============================================================================

// handleServerInfo godoc
//
//	@Summary		Server info
//	@Description	Version, node, current user and plugin count. Sub-lookups degrade to Unknown.
//	@Tags			jenkins
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	Envelope{data=jenkins.ServerInfo}
//	@Failure		400	{object}	Envelope
//	@Router			/jenkins/server-info [get]
func (s *server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.jenkins.GetServerInfo(r.Context())
	if err != nil {
		s.fail(w, err)

		return
	}

	s.ok(w, "", info)
}

// handleDebugInfo godoc
//
//	@Summary		Debug info
//	@Description	Raw headers, JSON keys in body order and sample values of the root API
//	@Tags			jenkins
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	Envelope{data=jenkins.DebugInfo}
//	@Failure		400	{object}	Envelope
//	@Router			/jenkins/debug [get]
func (s *server) handleDebugInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.jenkins.GetDebugInfo(r.Context())
	if err != nil {
		s.fail(w, err)

		return
	}

	s.ok(w, "", info)
}
