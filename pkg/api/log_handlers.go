package api

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cardvault/cardvault/pkg/contextkeys"
	"github.com/cardvault/cardvault/pkg/httputil"
)

// frontEndLogEntry is a client-side log line posted by the browser app.
type frontEndLogEntry struct {
	LogLevel        string `json:"logLevel"`
	Message         string `json:"message"`
	URL             string `json:"url"`
	StackTrace      string `json:"stackTrace"`
	OperatingSystem string `json:"operatingSystem"`
	Browser         string `json:"browser"`
}

// frontEndLog handles POST /log. The sink always reports success: a
// malformed log line is not the client's problem.
func (s *Server) frontEndLog(w http.ResponseWriter, r *http.Request) {
	var entry frontEndLogEntry
	if err := httputil.ParseJSON(r, &entry); err != nil {
		s.frontLog.WithError(err).Warn("discarding malformed front-end log entry")
		httputil.WriteMessage(w, http.StatusOK, MsgRequestSuccess)
		return
	}

	line := s.frontLog.WithFields(logrus.Fields{
		"url":             entry.URL,
		"stackTrace":      entry.StackTrace,
		"operatingSystem": entry.OperatingSystem,
		"browser":         entry.Browser,
		"requestId":       contextkeys.GetRequestID(r.Context()),
	})

	switch strings.ToLower(entry.LogLevel) {
	case "debug":
		line.Debug(entry.Message)
	case "warn", "warning":
		line.Warn(entry.Message)
	case "error":
		line.Error(entry.Message)
	default:
		line.Info(entry.Message)
	}

	httputil.WriteMessage(w, http.StatusOK, MsgRequestSuccess)
}
